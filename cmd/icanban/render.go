package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"icanban/internal/ics"
	"icanban/internal/model"
	"icanban/internal/tracker"
)

var (
	uidColor     = color.New(color.FgHiBlack)
	elapsedColor = color.New(color.FgCyan)
	runningColor = color.New(color.FgHiGreen, color.Bold)
	topColor     = color.New(color.Bold)
)

// printTree writes views as an indented tree. Time slices are listed only
// when slices is set.
func printTree(w io.Writer, views []model.TaskView, slices bool) {
	for _, v := range views {
		printNode(w, v, "", slices)
	}
}

func printNode(w io.Writer, v model.TaskView, indent string, slices bool) {
	summary := v.Summary
	if summary == "" {
		summary = "(untitled)"
	}
	if v.Role == string(tracker.RoleTop) {
		summary = topColor.Sprint(summary)
	}

	marker := "○"
	if v.Running {
		marker = runningColor.Sprint("●")
	}
	status := statusLabel(v.Status)
	if status != "" {
		status = " " + status
	}

	fmt.Fprintf(w, "%s%s %s%s  %s  %s\n",
		indent, marker, summary, status,
		elapsedColor.Sprint(formatElapsed(v.ElapsedMs)),
		uidColor.Sprint(v.UID),
	)

	if slices {
		for _, s := range v.TimeSlices {
			end := "running"
			if !s.Running && !s.Due.IsZero() {
				end = s.Due.Local().Format("15:04")
			}
			fmt.Fprintf(w, "%s    · %s → %s  %s\n",
				indent,
				s.Start.Local().Format("2006-01-02 15:04"),
				end,
				elapsedColor.Sprint(formatElapsed(s.ElapsedMs)),
			)
		}
	}
	for _, c := range v.Children {
		printNode(w, c, indent+"  ", slices)
	}
}

func statusLabel(s string) string {
	switch ics.Status(s) {
	case ics.StatusCompleted:
		return color.New(color.FgGreen).Sprint("[done]")
	case ics.StatusInProcess:
		return color.New(color.FgYellow).Sprint("[in process]")
	case "CANCELLED":
		return color.New(color.FgRed).Sprint("[cancelled]")
	default:
		return ""
	}
}

// formatElapsed renders milliseconds as h:mm:ss.
func formatElapsed(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// parseAssignments turns key=value arguments into a patch. An empty value
// removes the property, categories split on commas and integer properties
// are parsed as numbers.
func parseAssignments(args []string) (tracker.Patch, error) {
	patch := make(tracker.Patch, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		_, spec, known := ics.TodoSchema.Lookup(key)
		if !known {
			return nil, fmt.Errorf("%w: %s", ics.ErrUnknownProperty, key)
		}
		switch {
		case value == "":
			patch[key] = nil
		case spec.Type == ics.TypeInteger:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not an integer", key, value)
			}
			patch[key] = n
		case !spec.Unique:
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			patch[key] = parts
		default:
			patch[key] = value
		}
	}
	return patch, nil
}
