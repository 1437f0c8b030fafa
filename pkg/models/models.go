package models

// Category groups related items for display. Order controls the position of
// the category in the filter sidebar.
type Category struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// Item is a queryable variable (e.g. "Sex", "Age at Baseline"). When IsNumeric
// is set, the item's values carry numeric equivalents and the item is filtered
// by range rather than by value membership.
type Item struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CategoryID  int    `json:"category"`
	IsNumeric   bool   `json:"is_numeric"`
}

// Value is one concrete value an item can take. NameNumeric is derived at
// ingestion time when the display name parses as a number; Order is an optional
// display rank for categorical values.
type Value struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	NameNumeric *float64 `json:"name_numeric,omitempty"`
	Description string   `json:"description"`
	Order       *int     `json:"order,omitempty"`
}

// Variable is one fact row: case C has value V for item I. The ingestion
// pipeline guarantees at most one row per (case, item) pair.
type Variable struct {
	ID      int `json:"id"`
	CaseID  int `json:"case"`
	ItemID  int `json:"item"`
	ValueID int `json:"value"`
}

// CaseSummary is the denormalized per-case row used for charting (the
// data_model table). One row per case; never touched by the query engine.
type CaseSummary struct {
	CaseID        int
	AgeBaseline   *int
	AgeFollowup   *int
	Sex           string
	Enrollment    string
	FollowupYears *int
}
