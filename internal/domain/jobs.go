package domain

import "time"

// RunTrigger описывает источник запуска сводки.
type RunTrigger string

const (
	// TriggerScheduled запуск по расписанию.
	TriggerScheduled RunTrigger = "scheduled"
	// TriggerCatchUp запуск после пропущенного пробуждения или рестарта.
	TriggerCatchUp RunTrigger = "catch_up"
	// TriggerManual запуск вручную (CLI или HTTP).
	TriggerManual RunTrigger = "manual"
)

// RunReport описывает результат одного прогона конвейера.
type RunReport struct {
	RunID        string
	Trigger      RunTrigger
	Window       TimeWindow
	Summary      SummaryResult
	Confirmation PostConfirmation
	Translated   int
	StartedAt    time.Time
	FinishedAt   time.Time
}
