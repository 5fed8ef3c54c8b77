package reason

// Dialogue modes. Each mode selects a system prompt, a step budget, and an
// output policy.
const (
	ModeOps              = "ops"
	ModeBuilder          = "builder"
	ModeBuilderSelection = "builder_selection"
	ModeBuilderThreshold = "builder_threshold"
	ModeBuilderAction    = "builder_action"
	ModeAuditRead        = "audit_read"
	ModeAuditAnalysis    = "audit_analysis"
	ModeAuditVerify      = "audit_verify"
)

// modeProfile describes how the loop treats one mode.
//
// designOnly modes produce a single assistant turn and never execute tools,
// even when the model emits a tool-call JSON. buffered modes (audit_verify)
// hold each assistant turn back and stream only the human-readable
// narrative, ending on the [AUDIT_RESULT:…] tag.
type modeProfile struct {
	maxSteps   int
	designOnly bool
	buffered   bool
}

var modeProfiles = map[string]modeProfile{
	ModeOps:              {maxSteps: 10},
	ModeBuilder:          {maxSteps: 10},
	ModeBuilderSelection: {maxSteps: 1, designOnly: true},
	ModeBuilderThreshold: {maxSteps: 1, designOnly: true},
	ModeBuilderAction:    {maxSteps: 1, designOnly: true},
	ModeAuditRead:        {maxSteps: 20},
	ModeAuditAnalysis:    {maxSteps: 1, designOnly: true},
	ModeAuditVerify:      {maxSteps: 20, buffered: true},
}

// ValidMode reports whether mode names a dialogue mode.
func ValidMode(mode string) bool {
	_, ok := modeProfiles[mode]
	return ok
}
