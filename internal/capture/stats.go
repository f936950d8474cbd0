package capture

// Stats is the provenance record for one captured output (CaptureStats
// in the data model). Every field is a pointer so a Prompt-only
// execute_task call — which never captures anything — can report an
// entirely empty Stats.
type Stats struct {
	RawChars       *uint64 `json:"system_output_len_raw,omitempty"`
	ProcessedChars *uint64 `json:"system_output_len_processed,omitempty"`
	ClippedChars   *uint64 `json:"system_output_len_clipped,omitempty"`
	RawLines       *uint64 `json:"system_output_lines_raw,omitempty"`
	ProcessedLines *uint64 `json:"system_output_lines_processed,omitempty"`
	ClippedLines   *uint64 `json:"system_output_lines_clipped,omitempty"`
	Clipped        *bool   `json:"clipped,omitempty"`
	BudgetChars    *uint64 `json:"budget_chars,omitempty"`
	BudgetLines    *uint64 `json:"budget_lines,omitempty"`
	ClipMode       *string `json:"clip_mode,omitempty"`
	ClipFooter     *bool   `json:"clip_footer,omitempty"`
	RTKUsed        *bool   `json:"rtk_used,omitempty"`
	CaptureProvider *string `json:"capture_provider,omitempty"` // "rtk" | "native"
}

func u64p(v uint64) *uint64 { return &v }
func boolp(v bool) *bool    { return &v }
func strp(v string) *string { return &v }
