package queue

const (
	TypeExtractionProcess = "extraction:process"
)

type ExtractionProcessPayload struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
}
