// Package script renders a spoken workout script from structured exercise
// data. Rendering is a pure function of its input so a redelivered message
// always produces the same text.
package script

import (
	"fmt"
	"strings"

	"tts-pipeline/internal/models"
)

// Render concatenates the workout name and each exercise's name,
// description, duration, and rest in list order.
func Render(w models.Workout) string {
	var b strings.Builder

	if name := strings.TrimSpace(w.Name); name != "" {
		fmt.Fprintf(&b, "Workout: %s.", name)
	}

	for i, ex := range w.Exercises {
		name := strings.TrimSpace(ex.Name)
		if name == "" {
			name = fmt.Sprintf("Exercise %d", i+1)
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "Exercise %d: %s.", i+1, name)

		if desc := strings.TrimSpace(ex.Description); desc != "" {
			b.WriteByte(' ')
			b.WriteString(desc)
			if !strings.HasSuffix(desc, ".") {
				b.WriteByte('.')
			}
		}
		if ex.DurationSeconds > 0 {
			fmt.Fprintf(&b, " Duration: %d seconds.", ex.DurationSeconds)
		}
		if ex.RestSeconds > 0 {
			fmt.Fprintf(&b, " Rest: %d seconds.", ex.RestSeconds)
		}
	}

	return b.String()
}
