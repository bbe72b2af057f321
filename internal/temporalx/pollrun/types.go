package pollrun

const (
	WorkflowName   = "llm_job_poll"
	ActivityTick   = "llm_job_poll_tick"
	CronWorkflowID = "lexicon-llm-job-poll"
)

// TickResult mirrors services.TickReport so workflow history stays readable.
type TickResult struct {
	Skipped   bool `json:"skipped,omitempty"`
	Jobs      int  `json:"jobs"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Finalized int  `json:"finalized"`
}
