package hermes

const (
	SubjectAll = "atp.>"

	StreamName   = "ATP_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

func SubjectDocumentSubmitted(docID string) string { return "atp.document." + docID + ".submitted" }
func SubjectDocumentInReview(docID string) string  { return "atp.document." + docID + ".in_review" }
func SubjectDocumentApproved(docID string) string  { return "atp.document." + docID + ".approved" }
func SubjectDocumentRejected(docID string) string  { return "atp.document." + docID + ".rejected" }

func SubjectStageActivated(docID string) string { return "atp.stage." + docID + ".activated" }
func SubjectStageDecided(docID string) string   { return "atp.stage." + docID + ".decided" }

func SubjectPunchlistCreated(docID string) string   { return "atp.punchlist." + docID + ".created" }
func SubjectPunchlistStarted(docID string) string   { return "atp.punchlist." + docID + ".started" }
func SubjectPunchlistRectified(docID string) string { return "atp.punchlist." + docID + ".rectified" }
func SubjectPunchlistVerified(docID string) string  { return "atp.punchlist." + docID + ".verified" }
