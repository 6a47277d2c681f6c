package store

import (
	"fmt"
	"strconv"
	"strings"
)

// VectorLiteral renders a float32 slice as a pgvector input literal,
// "[x,y,z]", for binding as $N::vector. A nil slice renders as an empty
// string; callers pass NULL instead.
func VectorLiteral(v []float32) string {
	if v == nil {
		return ""
	}
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector parses a pgvector text literal back into a float32 slice.
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("store: malformed vector literal %q", truncateForError(s))
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return []float32{}, nil
	}
	parts := strings.Split(inner, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("store: parse vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func truncateForError(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
