package email

const (
	subjectScheduledReporterFmt = "Your consultation for case %s is scheduled"
	subjectScheduledReviewerFmt = "New consultation assigned: case %s"
	subjectNotesReadyFmt        = "Please review the consultation notes for case %s"
	subjectDisputedFmt          = "Case %s: the reporter disputed your notes"
	subjectDisputeAnsweredFmt   = "Case %s: your dispute has been answered"
	subjectEscalatedFmt         = "Case %s escalated for mediation"
	subjectRejectedFmt          = "Update on your report %s"
)
