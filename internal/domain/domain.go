package domain

// MarkingStatus is the per-control decision state. "reset" is a transition
// target, not a persisted state: resetting a control puts it back to unset.
type MarkingStatus string

const (
	StatusUnset MarkingStatus = "unset"
	StatusPass  MarkingStatus = "pass"
	StatusFail  MarkingStatus = "fail"
	StatusSkip  MarkingStatus = "skip"
)

// Marked reports whether the status counts toward completion.
func (s MarkingStatus) Marked() bool {
	return s == StatusPass || s == StatusFail || s == StatusSkip
}

// Valid reports whether s is one of the known statuses.
func (s MarkingStatus) Valid() bool {
	switch s {
	case StatusUnset, StatusPass, StatusFail, StatusSkip:
		return true
	}
	return false
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Control is one compliance checkpoint from the catalog. Immutable for the
// duration of a marking session.
type Control struct {
	ID             string    `json:"id"`
	Section        string    `json:"section"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Implementation string    `json:"implementation,omitempty"`
	RiskLevel      RiskLevel `json:"risk_level" enum:"low,medium,high"`
	References     []string  `json:"references,omitempty"`
}

// Marking is one user decision about one control within one session.
type Marking struct {
	ControlID   string        `json:"control_id"`
	Status      MarkingStatus `json:"status" enum:"unset,pass,fail,skip"`
	Explanation string        `json:"explanation,omitempty"`
	Notes       string        `json:"notes,omitempty"`
}

// Check is the normalized tri-state form of a marking carried by a saved
// configuration: pass -> true, fail -> false, anything else -> nil.
type Check struct {
	ControlID string `json:"control_id"`
	Value     *bool  `json:"value"`
}

// ConfigurationDraft is a named snapshot of all markings for one
// (team, device) pair, ready for submission.
type ConfigurationDraft struct {
	Name     string  `json:"name"`
	TeamID   string  `json:"team_id"`
	DeviceID string  `json:"device_id"`
	Comments string  `json:"comments,omitempty"`
	Checks   []Check `json:"checks"`
}

// SavedConfiguration is a draft after the persistence layer accepted it.
// Immutable client-side: edits create a new saved configuration.
type SavedConfiguration struct {
	SaveID    string  `json:"save_id"`
	Name      string  `json:"name"`
	TeamID    string  `json:"team_id"`
	DeviceID  string  `json:"device_id"`
	Comments  string  `json:"comments,omitempty"`
	Checks    []Check `json:"checks"`
	CreatedBy string  `json:"created_by"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Report is generated artifact metadata for one saved configuration. The
// binary file itself is opaque and fetched separately via FileID.
type Report struct {
	ReportID        string `json:"report_id"`
	SaveID          string `json:"save_id"`
	GeneratedAt     string `json:"generated_at" format:"date-time"`
	PassedChecks    int    `json:"passed_checks"`
	FailedChecks    int    `json:"failed_checks"`
	SkippedChecks   int    `json:"skipped_checks"`
	ComplianceScore int    `json:"compliance_score"`
	FileID          string `json:"file_id"`
	ContentType     string `json:"content_type"`
}

type Team struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Device uses the subtype-keyed shape; a device always belongs to a team.
type Device struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	Name      string `json:"name"`
	Subtype   string `json:"subtype,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
