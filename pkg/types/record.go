package types

// UCStatus is the classified health status of a single measurement point.
type UCStatus string

const (
	// StatusOK means the UC injected a positive amount of energy.
	StatusOK UCStatus = "ok"
	// StatusZeroInjection means the UC reported a reading of exactly zero.
	StatusZeroInjection UCStatus = "zero_injection"
	// StatusNoData means no reading is available for the UC.
	StatusNoData UCStatus = "no_data"
)

// UCRecord is the latest raw reading for a single measurement point
// ("unidade consumidora"). Records are refreshed wholesale on every
// poll; they are never merged.
type UCRecord struct {
	// UC is the identifier of the measurement point, unique within a client.
	UC         string `json:"uc"`
	ClientName string `json:"clientName"`
	// DocumentID is the owning client's tax ID. It is the validation
	// ledger key after normalization.
	DocumentID string `json:"documentID,omitempty"`

	// Injected is the energy injected into the grid in kWh. nil means no
	// reading is available.
	Injected       *float64 `json:"injected"`
	ReferenceMonth string   `json:"referenceMonth,omitempty"`
	PlantID        string   `json:"plantID,omitempty"`
	Inverter       string   `json:"inverter,omitempty"`
	MonthlyTarget  *float64 `json:"monthlyTarget,omitempty"`

	// ReadingDays is the length in days of the billing period that
	// produced this reading. Independent of Injected: a UC can have a
	// valid injection value with an anomalous period length.
	ReadingDays *int `json:"readingDays"`
}

// Classification is the result of classifying a UCRecord.
type Classification struct {
	Status UCStatus `json:"status"`
	// EarlyDays is how many days short of the expected band the reading
	// period was. Zero when there is no early-reading anomaly.
	EarlyDays int `json:"earlyDays,omitempty"`
	// LateDays is how many days past the expected band the reading
	// period was. Zero when there is no late-reading anomaly.
	LateDays int `json:"lateDays,omitempty"`
}

// HasReadingAnomaly reports whether the reading period fell outside the
// expected band.
func (c Classification) HasReadingAnomaly() bool {
	return c.EarlyDays > 0 || c.LateDays > 0
}

// ClassifiedUC pairs a raw record with its classification.
type ClassifiedUC struct {
	UCRecord
	Classification
}

// ClientGroup is the aggregation root: all UCs owned by a single
// client. Groups are recomputed from scratch on every aggregation pass
// and never persisted.
type ClientGroup struct {
	ClientName string         `json:"clientName"`
	DocumentID string         `json:"documentID,omitempty"`
	UCs        []ClassifiedUC `json:"ucs"`

	TotalInjected float64 `json:"totalInjected"`
	CountOK       int     `json:"countOK"`
	CountZero     int     `json:"countZero"`
	CountNoData   int     `json:"countNoData"`

	// ProblemCount counts zero-injection UCs only. Reading-schedule
	// anomalies are tracked separately as day totals below.
	ProblemCount   int `json:"problemCount"`
	EarlyDaysTotal int `json:"earlyDaysTotal"`
	LateDaysTotal  int `json:"lateDaysTotal"`
}

// Metrics is the global summary across all client groups.
type Metrics struct {
	TotalClients  int     `json:"totalClients"`
	TotalUCs      int     `json:"totalUCs"`
	OKCount       int     `json:"okCount"`
	ZeroCount     int     `json:"zeroCount"`
	NoDataCount   int     `json:"noDataCount"`
	ProblemRate   float64 `json:"problemRate"`
	TotalInjected float64 `json:"totalInjected"`
}

// ProblemKind identifies the type of anomaly a problem entry reports.
type ProblemKind string

const (
	ProblemZeroInjection ProblemKind = "zero_injection"
	ProblemEarlyReading  ProblemKind = "early_reading"
	ProblemLateReading   ProblemKind = "late_reading"
)

// ProblemEntry is one anomaly on one UC. A single UC can contribute up
// to two entries: one for zero injection and one for a reading-schedule
// anomaly.
type ProblemEntry struct {
	ClientName string      `json:"clientName"`
	DocumentID string      `json:"documentID,omitempty"`
	UC         string      `json:"uc"`
	Kind       ProblemKind `json:"kind"`
	EarlyDays  int         `json:"earlyDays,omitempty"`
	LateDays   int         `json:"lateDays,omitempty"`
}
