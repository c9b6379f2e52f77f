package capture

import "testing"

// TestBlank verifies a blank frame carries a full packed RGB buffer.
func TestBlank(t *testing.T) {
	f := Blank(4, 3)
	if len(f.Data) != 36 {
		t.Errorf("len = %d, want 36", len(f.Data))
	}
	if f.Width != 4 || f.Height != 3 {
		t.Errorf("size = %dx%d, want 4x3", f.Width, f.Height)
	}
}
