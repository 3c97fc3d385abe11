package ingestion_test

import (
	"encoding/json"
	"testing"

	"CornLedger/internal/ingestion"
)

func marshalPayload(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"price":              "2000000000000000000000",
		"price_sequence":     int64(42),
		"price_timestamp_us": int64(1700000000000000),
	}

	update, err := ingestion.ParsePriceUpdate(marshalPayload(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if update.Price.String() != "2000000000000000000000" {
		t.Errorf("price: got %s, want 2000000000000000000000", update.Price.String())
	}
	if update.PriceSequence != 42 {
		t.Errorf("price_sequence: got %d, want 42", update.PriceSequence)
	}
	if update.PriceTimestamp != 1700000000000000 {
		t.Errorf("price_timestamp: got %d, want 1700000000000000", update.PriceTimestamp)
	}
}

func TestParsePriceUpdate_NegativePassesThrough(t *testing.T) {
	// Structural parse accepts negative values; the oracle rejects them on
	// apply so the rejection is counted and logged in one place.
	payload := map[string]interface{}{
		"price":              "-5",
		"price_sequence":     int64(1),
		"price_timestamp_us": int64(1700000000000000),
	}

	update, err := ingestion.ParsePriceUpdate(marshalPayload(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if update.Price.Sign() >= 0 {
		t.Errorf("expected negative price preserved, got %s", update.Price.String())
	}
}

func TestParsePriceUpdate_InvalidJSON_Fails(t *testing.T) {
	_, err := ingestion.ParsePriceUpdate([]byte(`{invalid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParsePriceUpdate_MissingPrice_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"price_sequence":     int64(1),
		"price_timestamp_us": int64(1700000000000000),
	}

	_, err := ingestion.ParsePriceUpdate(marshalPayload(t, payload))
	if err == nil {
		t.Fatal("expected error for missing price")
	}
}

func TestParsePriceUpdate_NonIntegerPrice_Fails(t *testing.T) {
	cases := []string{"2000.5", "2e18", "abc", "0x10"}
	for _, price := range cases {
		payload := map[string]interface{}{
			"price":              price,
			"price_sequence":     int64(1),
			"price_timestamp_us": int64(1700000000000000),
		}

		if _, err := ingestion.ParsePriceUpdate(marshalPayload(t, payload)); err == nil {
			t.Errorf("price %q: expected error", price)
		}
	}
}

func TestParsePriceUpdate_NegativeSequence_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"price":              "2000000000000000000000",
		"price_sequence":     int64(-1),
		"price_timestamp_us": int64(1700000000000000),
	}

	_, err := ingestion.ParsePriceUpdate(marshalPayload(t, payload))
	if err == nil {
		t.Fatal("expected error for negative price_sequence")
	}
}
