package options

import (
	"strings"
	"testing"

	"github.com/aretw0/transmute/pkg/property"
)

func TestValidateNormalized_Success(t *testing.T) {
	opts := property.New().
		With("format", "webp").
		With("max_width", 1024).
		With("quality", 85).
		With("gravity", "center")

	if err := ValidateNormalized(opts); err != nil {
		t.Errorf("ValidateNormalized() error = %v, want nil", err)
	}
}

func TestValidateNormalized_QualityOutOfRange(t *testing.T) {
	opts := property.New().With("quality", 120)

	err := ValidateNormalized(opts)
	if err == nil {
		t.Fatal("ValidateNormalized() should reject quality > 100")
	}

	aggr, ok := err.(*AggregateError)
	if !ok {
		t.Fatalf("error should be *AggregateError, got %T", err)
	}
	if len(aggr.Errors) != 1 {
		t.Errorf("got %d errors, want 1", len(aggr.Errors))
	}

	validErr, ok := aggr.Errors[0].(*ValidationError)
	if !ok {
		t.Fatalf("error should be *ValidationError, got %T", aggr.Errors[0])
	}
	if validErr.Key != "quality" {
		t.Errorf("error Key = %q, want quality", validErr.Key)
	}
}

func TestValidateNormalized_BadGravity(t *testing.T) {
	opts := property.New().With("gravity", "upper-middle")
	if err := ValidateNormalized(opts); err == nil {
		t.Fatal("ValidateNormalized() should reject unknown gravity")
	}
}

func TestValidateNormalized_Watermark(t *testing.T) {
	good := property.New()
	good["watermark"] = property.Map(map[string]property.Value{
		"position": property.String("bottom-right"),
		"opacity":  property.Float(0.5),
		"margin":   property.Int(16),
	})
	if err := ValidateNormalized(good); err != nil {
		t.Errorf("valid watermark rejected: %v", err)
	}

	bad := property.New()
	bad["watermark"] = property.Map(map[string]property.Value{
		"position": property.String("bottom-right"),
		"opacity":  property.Float(1.5),
	})
	err := ValidateNormalized(bad)
	if err == nil {
		t.Fatal("watermark opacity 1.5 should be rejected")
	}

	// Nested failures surface under their dot-joined path.
	aggr, ok := err.(*AggregateError)
	if !ok {
		t.Fatalf("error should be *AggregateError, got %T", err)
	}
	validErr, ok := aggr.Errors[0].(*ValidationError)
	if !ok {
		t.Fatalf("error should be *ValidationError, got %T", aggr.Errors[0])
	}
	if validErr.Key != "watermark.opacity" {
		t.Errorf("error Key = %q, want watermark.opacity", validErr.Key)
	}
}

func TestAggregateErrorFor(t *testing.T) {
	err := ValidateNormalized(property.New().With("quality", 500))
	aggr, ok := err.(*AggregateError)
	if !ok {
		t.Fatalf("error should be *AggregateError, got %T", err)
	}

	msg := aggr.For("image.png-to-webp").Error()
	if want := `converter "image.png-to-webp"`; !strings.Contains(msg, want) {
		t.Errorf("error %q should mention %s", msg, want)
	}
	if !strings.Contains(msg, "quality") {
		t.Errorf("error %q should mention the offending option", msg)
	}
}

func TestValidate_UnknownKeysPassThrough(t *testing.T) {
	opts := property.New().With("soundfont", "/usr/share/sf2/default.sf2")
	if err := ValidateNormalized(opts); err != nil {
		t.Errorf("unknown option should pass through, got %v", err)
	}
}

func TestValidate_TypeMismatch(t *testing.T) {
	opts := property.New().With("max_width", "wide")
	if err := ValidateNormalized(opts); err == nil {
		t.Fatal("non-integer max_width should be rejected")
	}
}

func TestIntAcceptsWholeFloats(t *testing.T) {
	opts := property.New().With("quality", 85.0)
	if err := ValidateNormalized(opts); err != nil {
		t.Errorf("whole float quality rejected: %v", err)
	}

	opts = property.New().With("quality", 85.5)
	if err := ValidateNormalized(opts); err == nil {
		t.Fatal("fractional quality should be rejected")
	}
}
