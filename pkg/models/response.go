package models

// SubjectCount is one masked statistic row in a filter response. Value is a
// float64 because the same row shape carries both integer counts and derived
// means (e.g. mean follow-up years).
type SubjectCount struct {
	ID     string  `json:"id"`
	Header string  `json:"header"`
	Value  float64 `json:"value"`
}

// Dataset is one series of bucket counts for a chart category.
type Dataset struct {
	Label string `json:"label"`
	Data  []int  `json:"data"`
}

// ChartData is an age-binned histogram keyed by bucket labels, one dataset per
// category value (e.g. per sex).
type ChartData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// FilterResponse is the full aggregate answer for one resolved filter. Every
// numeric it carries has already passed through masking/jitter; raw counts
// never leave the aggregation service.
type FilterResponse struct {
	Counts []SubjectCount `json:"counts"`
	Age    ChartData      `json:"age"`
}

// Clone returns a deep copy. Precomputed responses are shared across requests,
// so callers that modify a response must clone it first.
func (r *FilterResponse) Clone() *FilterResponse {
	if r == nil {
		return nil
	}
	out := &FilterResponse{
		Counts: make([]SubjectCount, len(r.Counts)),
		Age: ChartData{
			Labels:   append([]string(nil), r.Age.Labels...),
			Datasets: make([]Dataset, len(r.Age.Datasets)),
		},
	}
	copy(out.Counts, r.Counts)
	for i, ds := range r.Age.Datasets {
		out.Age.Datasets[i] = Dataset{Label: ds.Label, Data: append([]int(nil), ds.Data...)}
	}
	return out
}

// Zeroed returns a copy with every count and bucket value set to zero, keeping
// labels and row ids intact. This is the "null" response shape returned when a
// filter matches nothing: identical structure, nothing to leak.
func (r *FilterResponse) Zeroed() *FilterResponse {
	out := r.Clone()
	if out == nil {
		return nil
	}
	for i := range out.Counts {
		out.Counts[i].Value = 0
	}
	for i := range out.Age.Datasets {
		for j := range out.Age.Datasets[i].Data {
			out.Age.Datasets[i].Data[j] = 0
		}
	}
	return out
}

// ValueMeta is one selectable value in the filter UI.
type ValueMeta struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RangeMeta describes an evenly spaced slider for a numeric item.
type RangeMeta struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// ItemMeta is one queryable item with either its discrete values or a numeric
// range (never both).
type ItemMeta struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Values      []ValueMeta `json:"values,omitempty"`
	Range       *RangeMeta  `json:"range,omitempty"`
}

// CategoryMeta is the filter-sidebar description of one category.
type CategoryMeta struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Items       []ItemMeta `json:"items"`
}
