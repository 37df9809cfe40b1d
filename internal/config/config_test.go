package config

import "testing"

func TestDefaultIsInvalidWithoutPort(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != ErrInvalidPort {
		t.Fatalf("expected ErrInvalidPort for zero-value port, got %v", err)
	}
}

func TestDefaultWithPortValidates(t *testing.T) {
	c := Default()
	c.Port = 8080
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	c := Default()
	c.Port = 70000
	if err := c.Validate(); err != ErrInvalidPort {
		t.Fatalf("expected ErrInvalidPort, got %v", err)
	}
}

func TestValidateRejectsEmptyDocRoot(t *testing.T) {
	c := Default()
	c.Port = 8080
	c.DocRoot = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for empty doc root")
	}
}

func TestDefaultRespondBusyIsOff(t *testing.T) {
	c := Default()
	if c.RespondBusy {
		t.Fatalf("expected RespondBusy to default to false")
	}
}

func TestValidateRejectsNonPositiveCounts(t *testing.T) {
	base := Default()
	base.Port = 8080

	cases := []func(*Config){
		func(c *Config) { c.Threads = 0 },
		func(c *Config) { c.MaxRequests = 0 },
		func(c *Config) { c.MaxFD = 0 },
		func(c *Config) { c.MaxEvents = 0 },
		func(c *Config) { c.TimeSlot = 0 },
	}
	for i, mutate := range cases {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
