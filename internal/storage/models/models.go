package models

import (
	"strings"
	"time"
)

const (
	RoleAdmin    = "admin"
	RoleMarketer = "marketer"
	RoleObserver = "observer"
)

const (
	MethodManual = "manual"
	MethodCSV    = "csv"
	MethodStore  = "store"
)

// Ungraded is the grade of a score below every threshold.
const Ungraded = "ungraded"

type User struct {
	ID                 int64
	Username           string
	PasswordHash       string
	Role               string
	Email              string
	FullName           string
	IsActive           bool
	CurrentLat         *float64
	CurrentLng         *float64
	LastLocationUpdate *time.Time
	CreatedAt          time.Time
}

func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

type Route struct {
	ID          int64
	Name        string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	Points      []RoutePoint
	MarketerIDs []int64
}

type RoutePoint struct {
	ID        int64
	RouteID   int64
	Name      string
	Latitude  float64
	Longitude float64
	Address   string
	Order     int
	CreatedAt time.Time
}

type RouteAssignment struct {
	ID          int64
	RouteID     int64
	MarketerID  int64
	AssignedAt  time.Time
	IsActive    bool
	Completed   bool
	CompletedAt *time.Time
}

type Store struct {
	ID        int64
	Name      string
	Lat       *float64
	Lng       *float64
	CreatedAt time.Time
}

// StoreEvaluation scores a store over an optional period. Category is the grade letter
// the total reached.
type StoreEvaluation struct {
	ID         int64
	StoreID    int64
	StoreName  string
	StartDate  *time.Time
	EndDate    *time.Time
	TotalScore float64
	Category   string
	CreatedAt  time.Time
	Details    []StoreEvaluationDetail
}

// StoreEvaluationDetail keeps the parameter name and weight as they were when scored.
type StoreEvaluationDetail struct {
	ID            int64
	EvaluationID  int64
	ParameterID   *int64
	ParameterName string
	Weight        float64
	Score         float64
}

// Customer is the subject record of an evaluation. Grade caches the latest evaluation.
type Customer struct {
	ID         int64
	Number     string
	Name       string
	BranchName string
	Caption    string
	Province   string
	City       string
	Address    string
	Phone      string
	Latitude   *float64
	Longitude  *float64
	Grade      string
	CreatedAt  time.Time
}

type RouteReport struct {
	ID                   int64
	RouteNumber          string
	RouteName            string
	NumberOfCustomers    *int
	EmployeeIntermediary string
	SalesCenter          string
	CreatedAt            time.Time
}

type GradeThreshold struct {
	ID          int64
	GradeLetter string
	MinScore    float64
}

// EvaluationParameter is a named evaluation input with the weight forms start from.
type EvaluationParameter struct {
	ID        int64
	Name      string
	Weight    float64
	CreatedAt time.Time
}

type DescriptiveCriterion struct {
	ID            int64
	ParameterName string
	Criterion     string
	Score         float64
}

// CriterionKey is the case-folded form under which descriptive criteria are matched.
func CriterionKey(criterion string) string {
	return strings.ToLower(strings.TrimSpace(criterion))
}

type EvaluationRecord struct {
	ID               int64
	CustomerID       *int64
	SubjectNumber    string
	SubjectName      string
	TotalScore       float64
	AssignedGrade    string
	EvaluationMethod string
	BatchID          string
	EvaluatedAt      time.Time
}

type BatchSummary struct {
	BatchID     string
	Records     int
	EvaluatedAt time.Time
}

type Province struct {
	ID         int64
	Name       string
	Population int64
}

// ProvinceTarget is a province's share of the total capacity. Nil fields mean "no allocation".
type ProvinceTarget struct {
	ID             int64
	ProvinceID     int64
	ProvinceName   string
	Population     int64
	Percentage     *float64
	LiterCapacity  *float64
	ShrinkCapacity *float64
	CreatedAt      time.Time
}

type QuotaCategory struct {
	ID           int64
	Category     string
	MonthlyQuota int64
	CreatedAt    time.Time
}

type GradeCount struct {
	Grade string
	Count int
}
