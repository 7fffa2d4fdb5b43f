package core

import "testing"

func TestContent_TextAndCalls(t *testing.T) {
	c := Content{Role: "assistant", Parts: []Part{
		TextPart{Text: "Looking "},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "c1", Name: "ElectricityPlugin-GetElectricityPrice", Arguments: `{"city":"Copenhagen"}`}},
		TextPart{Text: "up."},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "c2", Name: "WeatherPlugin-GetCurrentWeather"}},
	}}

	if got := c.Text(); got != "Looking up." {
		t.Fatalf("Text() = %q", got)
	}
	calls := c.FunctionCalls()
	if len(calls) != 2 || calls[0].ID != "c1" || calls[1].Name != "WeatherPlugin-GetCurrentWeather" {
		t.Fatalf("FunctionCalls() = %+v", calls)
	}
}

func TestContent_Clone(t *testing.T) {
	c := NewTextContent("user", "hi")
	cp := c.Clone()
	cp.Parts[0] = TextPart{Text: "changed"}

	if c.Text() != "hi" {
		t.Fatalf("clone shares parts with the original: %q", c.Text())
	}
}

func TestFragment_String(t *testing.T) {
	msg := NewMessageFragment("Host", "thread_1", "The price was 0.42.")
	if msg.String() != "The price was 0.42." || msg.Role != "assistant" || msg.ID == "" {
		t.Fatalf("message fragment malformed: %+v", msg)
	}

	round := NewToolRoundFragment("Host", "thread_1", []FunctionCall{{Name: "a"}, {Name: "b"}})
	if round.String() != "called a, b" || round.Role != "tool" {
		t.Fatalf("tool round fragment malformed: %+v", round)
	}
}
