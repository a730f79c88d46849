package service_test

import (
	"strings"
	"testing"

	"github.com/Strob0t/harrier/internal/service"
)

func TestTokenCounter_AddEstimatesFourCharsPerToken(t *testing.T) {
	c := service.NewTokenCounter(1000)

	if got := c.Add("abcdefgh"); got != 2 {
		t.Errorf("Add(8 chars) count = %d, want 2", got)
	}
	if got := c.Add("abc"); got != 3 {
		t.Errorf("Add(3 more chars) count = %d, want 3 (ceil rounding)", got)
	}
	if got := c.Context(); got != "abcdefghabc" {
		t.Errorf("Context() = %q", got)
	}
}

func TestTokenCounter_UsageRatioZeroMax(t *testing.T) {
	c := service.NewTokenCounter(0)
	c.Add(strings.Repeat("x", 4096))

	if got := c.UsageRatio(); got != 0 {
		t.Errorf("UsageRatio() with zero max = %v, want 0", got)
	}
	if c.ShouldDistill(0.70) {
		t.Error("ShouldDistill() = true with zero max, want false")
	}
}

func TestTokenCounter_ShouldDistillStrictGreater(t *testing.T) {
	c := service.NewTokenCounter(100)
	c.Add(strings.Repeat("x", 280)) // exactly 70 tokens

	if c.ShouldDistill(0.70) {
		t.Error("ShouldDistill() = true at exactly the threshold, want false")
	}

	c.Add("xxxx")
	if !c.ShouldDistill(0.70) {
		t.Error("ShouldDistill() = false above the threshold, want true")
	}
}

func TestTokenCounter_ResetWithSummary(t *testing.T) {
	c := service.NewTokenCounter(1000)
	c.Add(strings.Repeat("x", 400))

	c.ResetWithSummary("summary!")

	if got := c.Usage(); got != 2 {
		t.Errorf("Usage() after reset = %d, want 2", got)
	}
	if got := c.Context(); got != "summary!" {
		t.Errorf("Context() after reset = %q, want the summary", got)
	}
}
