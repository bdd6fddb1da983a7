package vault

// Typed projections of the four document kinds. These are what the index
// stores and what queries return; every field here is derived from
// front-matter with zero information loss, so the index can always be
// rebuilt from the vault.

// Task is the attribute block of a task document.
type Task struct {
	ID                  string
	Title               string
	Status              string
	Priority            string
	CreatedAt           string
	UpdatedAt           string
	CompletedAt         string
	DueDate             string
	ProjectID           string
	ProjectName         string
	PeopleIDs           []string
	SubtaskIDs          []string
	Tags                []string
	TimeEstimateMinutes int
	TimeEstimateSource  string
	TimeActualMinutes   int
	CalendarEventID     string
	ScheduledStart      string
	ScheduledEnd        string
	Context             string
	FilePath            string
}

// Project is the attribute block of a project document.
type Project struct {
	ID        string
	Title     string
	Status    string
	CreatedAt string
	UpdatedAt string
	Deadline  string
	PeopleIDs []string
	FilePath  string
}

// Person is the attribute block of a person document.
type Person struct {
	ID                   string
	Name                 string
	Role                 string
	Company              string
	Email                string
	Phone                string
	CreatedAt            string
	UpdatedAt            string
	LastContact          string
	ContactFrequencyDays int
	FilePath             string
}

// DailyLog is the attribute block of a daily log document.
type DailyLog struct {
	ID                  string
	Date                string
	CreatedAt           string
	MorningCheckinAt    string
	EveningReviewAt     string
	TotalPlannedMinutes int
	TotalActualMinutes  int
	EnergyLevelMorning  int
	EnergyLevelEvening  int
	FilePath            string
}

// DecodeTask projects a task document into its typed form.
func DecodeTask(f File) *Task {
	d := f.Doc
	priority := d.String("priority")
	if priority == "" {
		priority = PriorityMedium
	}
	return &Task{
		ID:                  d.ID,
		Title:               d.String("title"),
		Status:              d.String("status"),
		Priority:            priority,
		CreatedAt:           d.String("created_at"),
		UpdatedAt:           d.String("updated_at"),
		CompletedAt:         d.String("completed_at"),
		DueDate:             d.String("due_date"),
		ProjectID:           d.String("project_id"),
		ProjectName:         d.String("project_name"),
		PeopleIDs:           d.Strings("people_ids"),
		SubtaskIDs:          d.Strings("subtask_ids"),
		Tags:                d.Strings("tags"),
		TimeEstimateMinutes: d.Int("time_estimate_minutes"),
		TimeEstimateSource:  d.String("time_estimate_source"),
		TimeActualMinutes:   d.Int("time_actual_minutes"),
		CalendarEventID:     d.String("calendar_event_id"),
		ScheduledStart:      d.String("scheduled_start"),
		ScheduledEnd:        d.String("scheduled_end"),
		Context:             d.String("context"),
		FilePath:            f.Path,
	}
}

// DecodeProject projects a project document into its typed form.
func DecodeProject(f File) *Project {
	d := f.Doc
	return &Project{
		ID:        d.ID,
		Title:     d.String("title"),
		Status:    d.String("status"),
		CreatedAt: d.String("created_at"),
		UpdatedAt: d.String("updated_at"),
		Deadline:  d.String("deadline"),
		PeopleIDs: d.Strings("people_ids"),
		FilePath:  f.Path,
	}
}

// DecodePerson projects a person document into its typed form.
func DecodePerson(f File) *Person {
	d := f.Doc
	return &Person{
		ID:                   d.ID,
		Name:                 d.String("name"),
		Role:                 d.String("role"),
		Company:              d.String("company"),
		Email:                d.String("email"),
		Phone:                d.String("phone"),
		CreatedAt:            d.String("created_at"),
		UpdatedAt:            d.String("updated_at"),
		LastContact:          d.String("last_contact"),
		ContactFrequencyDays: d.Int("contact_frequency_days"),
		FilePath:             f.Path,
	}
}

// DecodeDailyLog projects a daily log document into its typed form.
func DecodeDailyLog(f File) *DailyLog {
	d := f.Doc
	return &DailyLog{
		ID:                  d.ID,
		Date:                d.String("date"),
		CreatedAt:           d.String("created_at"),
		MorningCheckinAt:    d.String("morning_checkin_at"),
		EveningReviewAt:     d.String("evening_review_at"),
		TotalPlannedMinutes: d.Int("total_planned_minutes"),
		TotalActualMinutes:  d.Int("total_actual_minutes"),
		EnergyLevelMorning:  d.Int("energy_level_morning"),
		EnergyLevelEvening:  d.Int("energy_level_evening"),
		FilePath:            f.Path,
	}
}
