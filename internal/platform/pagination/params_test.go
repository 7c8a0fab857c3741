package pagination

import (
	"errors"
	"net/url"
	"reflect"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty page token got %q", params.PageToken)
	}
	if params.Orders != nil {
		t.Fatalf("expected nil orders, got %#v", params.Orders)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	values := url.Values{}
	values.Set("pageSize", "abc")

	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize got %v", err)
	}

	values.Set("pageSize", "0")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize for zero got %v", err)
	}
}

func TestOrderCursorRoundTripThroughParse(t *testing.T) {
	cursor := OrderCursor{
		CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		TotalPrice: 30000,
		ID:         "ord_01",
	}
	token, err := EncodeOrderCursor(cursor)
	if err != nil {
		t.Fatalf("EncodeOrderCursor returned error: %v", err)
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageToken != token {
		t.Fatalf("expected page token %q got %q", token, params.PageToken)
	}

	decoded, err := DecodeOrderCursor(params.PageToken)
	if err != nil {
		t.Fatalf("DecodeOrderCursor returned error: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) || decoded.TotalPrice != cursor.TotalPrice || decoded.ID != cursor.ID {
		t.Fatalf("unexpected cursor %#v", decoded)
	}
}

func TestEncodeOrderCursorWithoutIDIsEmpty(t *testing.T) {
	token, err := EncodeOrderCursor(OrderCursor{TotalPrice: 10})
	if err != nil {
		t.Fatalf("EncodeOrderCursor returned error: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
}

func TestParseInvalidPageToken(t *testing.T) {
	values := url.Values{}
	values.Set("pageToken", "!!!invalid!!!")

	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}

func TestParseOrderBy(t *testing.T) {
	values := url.Values{}
	values.Add("order_by", "createdAt desc")
	values.Add("orderBy", "totalPrice:asc,createdAt asc")

	opts := Options{AllowedOrderFields: []string{"createdAt", "totalPrice"}}

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	expected := []Order{
		{Field: "totalPrice", Desc: false},
		{Field: "createdAt", Desc: false},
	}
	if !reflect.DeepEqual(params.Orders, expected) {
		t.Fatalf("unexpected orders %#v", params.Orders)
	}
}

func TestParseOrderByErrors(t *testing.T) {
	opts := Options{AllowedOrderFields: []string{"createdAt"}}

	cases := map[string]string{
		"invalid direction": "createdAt sideways",
		"unknown field":     "unknown desc",
		"too many parts":    "createdAt desc extra",
		"bad field chars":   "created-at",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			values := url.Values{}
			values.Set("order_by", raw)
			if _, err := Parse(values, opts); !errors.Is(err, ErrInvalidOrderBy) {
				t.Fatalf("expected ErrInvalidOrderBy got %v", err)
			}
		})
	}

	values := url.Values{}
	values.Set("orderBy", "createdAt")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidOrderBy) {
		t.Fatalf("expected ErrInvalidOrderBy when ordering unsupported, got %v", err)
	}
}

func TestParseOrderByMatchesFieldsCaseInsensitively(t *testing.T) {
	values := url.Values{}
	values.Set("order_by", "TOTALPRICE desc")

	params, err := Parse(values, Options{AllowedOrderFields: []string{"createdAt", "totalPrice"}})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !reflect.DeepEqual(params.Orders, []Order{{Field: "totalPrice", Desc: true}}) {
		t.Fatalf("unexpected orders %#v", params.Orders)
	}
}

func TestParseExposesDecodedCursor(t *testing.T) {
	token, err := EncodeOrderCursor(OrderCursor{TotalPrice: 12500, ID: "ord_07"})
	if err != nil {
		t.Fatalf("EncodeOrderCursor returned error: %v", err)
	}
	values := url.Values{}
	values.Set("pageToken", token)

	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.Cursor.ID != "ord_07" || params.Cursor.TotalPrice != 12500 {
		t.Fatalf("unexpected cursor %#v", params.Cursor)
	}
}
