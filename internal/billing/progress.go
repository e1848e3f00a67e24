package billing

// ProgressSubtask is the completion signal of a single subtask.
type ProgressSubtask struct {
	CompletionPercentage float64
	IsReserve            bool
}

// ProgressTask groups the subtasks of one task.
type ProgressTask struct {
	Subtasks []ProgressSubtask
}

// TaskCompletion averages the non-reserve subtasks of a task, rounded to an
// integer. A task holding only reserve subtasks counts as 100; a task without
// subtasks counts as 0.
func TaskCompletion(task ProgressTask) float64 {
	if len(task.Subtasks) == 0 {
		return 0
	}
	main := make([]float64, 0, len(task.Subtasks))
	for _, st := range task.Subtasks {
		if st.IsReserve {
			continue
		}
		main = append(main, ClampPercent(st.CompletionPercentage))
	}
	if len(main) == 0 {
		return 100
	}
	return Round(mean(main), 0)
}

// ArticleCompletion averages task completion over all tasks of an article,
// rounded to an integer. An article without tasks counts as 0.
func ArticleCompletion(tasks []ProgressTask) float64 {
	if len(tasks) == 0 {
		return 0
	}
	values := make([]float64, 0, len(tasks))
	for _, task := range tasks {
		values = append(values, TaskCompletion(task))
	}
	return Round(mean(values), 0)
}

// ReserveCompletion returns the share of reserve subtasks that are fully done,
// as a percentage. ok is false when the article has no reserve subtasks.
func ReserveCompletion(tasks []ProgressTask) (pct float64, ok bool) {
	var total, done int
	for _, task := range tasks {
		for _, st := range task.Subtasks {
			if !st.IsReserve {
				continue
			}
			total++
			if ClampPercent(st.CompletionPercentage) == 100 {
				done++
			}
		}
	}
	if total == 0 {
		return 0, false
	}
	return Round(float64(done)/float64(total)*100, 0), true
}
