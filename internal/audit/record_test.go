package audit

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func validEvent() Event {
	return Event{
		Action:      ActionCreate,
		Category:    CategoryDataChange,
		Severity:    SeverityInfo,
		Description: "Created a billing policy",
		RiskScore:   25,
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
		field   string
	}{
		{"valid", func(e *Event) {}, false, ""},
		{"valid with chain key", func(e *Event) { e.ChainKey = "payments-v2" }, false, ""},
		{"missing action", func(e *Event) { e.Action = "" }, true, "event"},
		{"missing category", func(e *Event) { e.Category = "" }, true, "event"},
		{"missing severity", func(e *Event) { e.Severity = "" }, true, "event"},
		{"missing description", func(e *Event) { e.Description = "" }, true, "event"},
		{"unknown action", func(e *Event) { e.Action = "destroy" }, true, "action"},
		{"unknown category", func(e *Event) { e.Category = "finance" }, true, "category"},
		{"unknown severity", func(e *Event) { e.Severity = "fatal" }, true, "severity"},
		{"chain key with colon", func(e *Event) { e.ChainKey = "pay:ments" }, true, "event"},
		{"chain key too long", func(e *Event) { e.ChainKey = strings.Repeat("a", 129) }, true, "event"},
		{"description too long", func(e *Event) { e.Description = strings.Repeat("x", 2049) }, true, "event"},
		{"resource type too long", func(e *Event) { e.ResourceType = strings.Repeat("x", 129) }, true, "event"},
		{"risk score negative", func(e *Event) { e.RiskScore = -1 }, true, "event"},
		{"risk score too high", func(e *Event) { e.RiskScore = 101 }, true, "event"},
		{"too many flags", func(e *Event) {
			for i := 0; i < 33; i++ {
				e.ComplianceFlags = append(e.ComplianceFlags, "flag")
			}
		}, true, "event"},
		{"flag too long", func(e *Event) { e.ComplianceFlags = []string{strings.Repeat("f", 65)} }, true, "event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(&event)

			err := event.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Expected valid event, got %v", err)
				}
				return
			}
			if !IsValidation(err) {
				t.Fatalf("Expected validation error, got %v", err)
			}
			var ve *ValidationError
			if errors.As(err, &ve) && ve.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
}

func TestActorContextValidate(t *testing.T) {
	tests := []struct {
		name    string
		actor   ActorContext
		wantErr bool
	}{
		{"valid", ActorContext{ActorID: "user-1", OrganizationID: "acme"}, false},
		{"system actor", SystemActor("acme"), false},
		{"missing organization", ActorContext{ActorID: "user-1"}, true},
		{"organization with space", ActorContext{OrganizationID: "acme corp"}, true},
		{"organization with slash", ActorContext{OrganizationID: "acme/eu"}, true},
		{"organization too long", ActorContext{OrganizationID: strings.Repeat("a", 129)}, true},
		{"actor id too long", ActorContext{ActorID: strings.Repeat("u", 257), OrganizationID: "acme"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.actor.Validate()
			if tt.wantErr && !IsValidation(err) {
				t.Fatalf("Expected validation error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Expected valid actor, got %v", err)
			}
		})
	}
}

func TestActorContextEntries(t *testing.T) {
	actor := ActorContext{
		ActorID:        "user-1",
		OrganizationID: "acme",
		IP:             "10.0.0.1",
		UserAgent:      "curl/8.0",
		Endpoint:       "/v1/audit/events",
		Method:         "POST",
		RequestID:      "req-77",
	}

	entries := actor.contextEntries()
	want := map[string]string{
		"ip":         "10.0.0.1",
		"user_agent": "curl/8.0",
		"endpoint":   "/v1/audit/events",
		"method":     "POST",
		"request_id": "req-77",
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Expected context entries %v, got %v", want, entries)
	}

	empty := ActorContext{OrganizationID: "acme"}
	if len(empty.contextEntries()) != 0 {
		t.Errorf("Expected no entries for a bare actor, got %v", empty.contextEntries())
	}
}

func TestNormalizeFlags(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"nil", nil, nil},
		{"empty", []string{}, nil},
		{"all blank", []string{"", ""}, nil},
		{"sorted and deduplicated", []string{"soc2", "hipaa", "soc2", "", "gdpr"}, []string{"gdpr", "hipaa", "soc2"}},
		{"already normal", []string{"a", "b"}, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeFlags(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSanitizeChainKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"virtual_machine", "virtual_machine"},
		{"virtual machine", "virtual_machine"},
		{"disk:volume/2", "disk_volume_2"},
		{"Node-1.eu", "Node-1.eu"},
		{strings.Repeat("x", 200), strings.Repeat("x", 128)},
	}

	for _, tt := range tests {
		if got := sanitizeChainKey(tt.input); got != tt.want {
			t.Errorf("sanitizeChainKey(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
