package services

import "time"

// FieldType enumerates the input types a register field may have.
type FieldType string

const (
	FieldText           FieldType = "text"
	FieldNumber         FieldType = "number"
	FieldInteger        FieldType = "integer"
	FieldDecimal        FieldType = "decimal"
	FieldDate           FieldType = "date"
	FieldTime           FieldType = "time"
	FieldDateTime       FieldType = "datetime"
	FieldTextArea       FieldType = "textarea"
	FieldYesNo          FieldType = "yes_no"
	FieldSelectOne      FieldType = "select_one"
	FieldSelectMultiple FieldType = "select_multiple"
	FieldGeopoint       FieldType = "geopoint"
	FieldImage          FieldType = "image"
	FieldBarcode        FieldType = "barcode"
	FieldNote           FieldType = "note"
	FieldCalculate      FieldType = "calculate"
	// Referral types draw their choice lists from the facility/CSO directory.
	FieldFacilityReferral FieldType = "facility_referral"
	FieldCSOReferral      FieldType = "cso_referral"
	FieldCSO              FieldType = "cso"
)

// Field is one named, typed input belonging to a register. Name is the
// normalized slug of Label and is the second token key expressions may use.
type Field struct {
	ID                string    `json:"id"`
	Label             string    `json:"label"`
	Name              string    `json:"name"`
	Type              FieldType `json:"type"`
	Choices           []string  `json:"choices,omitempty"`
	Required          bool      `json:"required,omitempty"`
	Hint              string    `json:"hint,omitempty"`
	Relevance         string    `json:"relevance,omitempty"`
	Constraint        string    `json:"constraint,omitempty"`
	ConstraintMessage string    `json:"constraint_message,omitempty"`
}

// Register is a user-defined data collection instrument: an ordered field set
// plus metadata.
type Register struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Fields      []*Field  `json:"fields"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Record is one submission against a register. Values maps field labels to
// submitted values: strings, numbers, or []string for multi-choice fields.
// Fields skipped by relevance are stored as "".
type Record struct {
	ID          string         `json:"id"`
	RegisterID  string         `json:"register_id"`
	Values      map[string]any `json:"values"`
	SubmittedBy string         `json:"submitted_by"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// ScopeKind is a level of the administrative hierarchy, or "none" (global).
type ScopeKind string

const (
	ScopeNone        ScopeKind = "none"
	ScopeRegion      ScopeKind = "region"
	ScopeZone        ScopeKind = "zone"
	ScopeDistrict    ScopeKind = "district"
	ScopeSubdistrict ScopeKind = "subdistrict"
	ScopeFacility    ScopeKind = "facility"
)

// Scope names a single node at one hierarchy level, or nothing at all.
// Kind == ScopeNone implies Value == "".
type Scope struct {
	Kind  ScopeKind `json:"kind"`
	Value string    `json:"value,omitempty"`
}

// Permissions are the two management bits gating register and user admin.
type Permissions struct {
	CanManageRegisters bool `json:"can_manage_registers,omitempty"`
	CanManageUsers     bool `json:"can_manage_users,omitempty"`
}

// Role caps how deep a user's scope may go and carries default permissions.
type Role struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	MaxScope  ScopeKind   `json:"max_scope"`
	AllowCSO  bool        `json:"allow_cso"`
	Defaults  Permissions `json:"defaults"`
	IsDefault bool        `json:"is_default,omitempty"`
}

type User struct {
	ID                 string      `json:"id"`
	Username           string      `json:"username"`
	PassHash           []byte      `json:"-"`
	MustChangePassword bool        `json:"must_change_password,omitempty"`
	RoleID             string      `json:"role_id"`
	Scope              Scope       `json:"scope"`
	AssignedRegisters  []string    `json:"assigned_registers,omitempty"`
	AssignedCSOs       []string    `json:"assigned_csos,omitempty"`
	Permissions        Permissions `json:"permissions"`
	CreatedAt          time.Time   `json:"created_at,omitempty"`
}

// HasPermission reports whether the user carries the named permission bit.
func (u *User) HasPermission(name string) bool {
	if u == nil {
		return false
	}
	switch name {
	case PermManageRegisters:
		return u.Permissions.CanManageRegisters
	case PermManageUsers:
		return u.Permissions.CanManageUsers
	}
	return false
}

const (
	PermManageRegisters = "canManageRegisters"
	PermManageUsers     = "canManageUsers"
)

// MetricType classifies how a metric accumulates over records.
type MetricType string

const (
	MetricCount  MetricType = "count"
	MetricSum    MetricType = "sum"
	MetricCustom MetricType = "custom"
)

// Metric is a named, formula-driven count or sum computed over a filtered
// record set. Expression uses {Label} / ${Label} tokens.
type Metric struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Expression  string     `json:"expression"`
	Type        MetricType `json:"type,omitempty"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
}

// Report is a saved, ordered metric set against one register.
type Report struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	RegisterID string    `json:"register_id"`
	Metrics    []*Metric `json:"metrics"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DisaggGroup is one named sub-group condition. Groups are evaluated
// independently and need not partition the record set.
type DisaggGroup struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
}

type Disaggregation struct {
	Field  string         `json:"field"`
	Groups []*DisaggGroup `json:"groups"`
}

// LocationFilter restricts records to those resolving to the named nodes.
// Empty dimensions are unrestricted.
type LocationFilter struct {
	Region   string `json:"region,omitempty"`
	Zone     string `json:"zone,omitempty"`
	District string `json:"district,omitempty"`
	Facility string `json:"facility,omitempty"`
}

func (f LocationFilter) Active() bool {
	return f.Region != "" || f.Zone != "" || f.District != "" || f.Facility != ""
}

type IndicatorFilters struct {
	DateField string         `json:"date_field,omitempty"`
	StartDate string         `json:"start_date,omitempty"`
	EndDate   string         `json:"end_date,omitempty"`
	Location  LocationFilter `json:"location"`
}

// Indicator is a saved analysis definition: data elements plus optional
// disaggregations and filters.
type Indicator struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	RegisterID      string            `json:"register_id"`
	Elements        []*Metric         `json:"elements"`
	Disaggregations []*Disaggregation `json:"disaggregations,omitempty"`
	Filters         IndicatorFilters  `json:"filters"`
	CreatedBy       string            `json:"created_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	Shared          bool              `json:"shared,omitempty"`
}

// Facility is one row of the facility directory used for scope resolution.
// JSON keys follow the directory files, including the hyphenated one.
type Facility struct {
	Name        string `json:"Facility"`
	Subdistrict string `json:"Sub-district"`
	District    string `json:"District"`
	Zone        string `json:"Zone"`
	Region      string `json:"Region"`
}

// CSOMapping assigns a civil-society organization to a district.
type CSOMapping struct {
	District string `json:"district"`
	CSO      string `json:"cso"`
}

type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}
