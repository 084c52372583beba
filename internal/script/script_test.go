package script

import (
	"strings"
	"testing"

	"tts-pipeline/internal/models"
)

func TestRenderFullWorkout(t *testing.T) {
	w := models.Workout{
		Name: "Morning HIIT",
		Exercises: []models.Exercise{
			{Name: "Squat", Description: "Keep your back straight", DurationSeconds: 30, RestSeconds: 10},
			{Name: "Plank", DurationSeconds: 60},
		},
	}

	got := Render(w)

	want := "Workout: Morning HIIT. " +
		"Exercise 1: Squat. Keep your back straight. Duration: 30 seconds. Rest: 10 seconds. " +
		"Exercise 2: Plank. Duration: 60 seconds."
	if got != want {
		t.Fatalf("render mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	w := models.Workout{
		Name:      "Core",
		Exercises: []models.Exercise{{Name: "Crunch", DurationSeconds: 45}},
	}
	first := Render(w)
	for i := 0; i < 5; i++ {
		if Render(w) != first {
			t.Fatal("render must be a pure function of its input")
		}
	}
}

func TestRenderNamelessExercise(t *testing.T) {
	w := models.Workout{Exercises: []models.Exercise{{DurationSeconds: 20}}}
	got := Render(w)
	if !strings.Contains(got, "Exercise 1: Exercise 1.") {
		t.Fatalf("expected placeholder name, got %q", got)
	}
}

func TestRenderEmptyWorkout(t *testing.T) {
	if got := Render(models.Workout{}); got != "" {
		t.Fatalf("expected empty script, got %q", got)
	}
}
