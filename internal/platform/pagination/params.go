package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits pageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps pageSize when Options.MaxPageSize is unset.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidOrderBy   = errors.New("pagination: invalid orderBy")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Order is one order_by clause.
type Order struct {
	Field string
	Desc  bool
}

// Params holds the paging and sorting inputs of a list request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    OrderCursor
	Orders    []Order
}

// Options configure Parse for one listing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// AllowedOrderFields are matched case-insensitively; parsed orders carry the spelling
	// given here. Empty rejects any order_by.
	AllowedOrderFields []string
}

// FromRequest parses the list parameters of r's query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads pageSize, pageToken and orderBy (or order_by). Oversized pages are clamped
// and the page token is decoded so a bad token fails before any query runs.
func Parse(values url.Values, opts Options) (Params, error) {
	var (
		params Params
		err    error
	)
	if params.PageSize, err = opts.pageSize(values.Get("pageSize")); err != nil {
		return Params{}, err
	}
	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		if params.Cursor, err = DecodeOrderCursor(token); err != nil {
			return Params{}, err
		}
		params.PageToken = token
	}

	clauses := append(append([]string(nil), values["orderBy"]...), values["order_by"]...)
	if params.Orders, err = opts.orders(clauses); err != nil {
		return Params{}, err
	}
	return params, nil
}

func (o Options) pageSize(raw string) (int, error) {
	limit := o.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	fallback := o.DefaultPageSize
	if fallback <= 0 {
		fallback = DefaultPageSize
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return min(fallback, limit), nil
	}
	size, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	case size <= 0:
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	return min(size, limit), nil
}

func (o Options) orders(clauses []string) ([]Order, error) {
	var orders []Order
	for _, clause := range clauses {
		for _, part := range strings.Split(clause, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			order, err := o.order(part)
			if err != nil {
				return nil, err
			}
			if !containsField(orders, order.Field) {
				orders = append(orders, order)
			}
		}
	}
	return orders, nil
}

// order parses "field", "field desc" or "field:desc".
func (o Options) order(part string) (Order, error) {
	if !strings.Contains(part, " ") {
		part = strings.Replace(part, ":", " ", 1)
	}
	segments := strings.Fields(part)
	if len(segments) > 2 {
		return Order{}, fmt.Errorf("%w: invalid orderBy format %q", ErrInvalidOrderBy, part)
	}
	if len(o.AllowedOrderFields) == 0 {
		return Order{}, fmt.Errorf("%w: ordering not supported", ErrInvalidOrderBy)
	}

	order := Order{}
	for _, allowed := range o.AllowedOrderFields {
		if strings.EqualFold(allowed, segments[0]) {
			order.Field = allowed
			break
		}
	}
	if order.Field == "" {
		return Order{}, fmt.Errorf("%w: field %q is not allowed", ErrInvalidOrderBy, segments[0])
	}
	if len(segments) == 2 {
		switch strings.ToLower(segments[1]) {
		case "asc":
		case "desc":
			order.Desc = true
		default:
			return Order{}, fmt.Errorf("%w: invalid direction %q", ErrInvalidOrderBy, segments[1])
		}
	}
	return order, nil
}

func containsField(orders []Order, field string) bool {
	for _, order := range orders {
		if order.Field == field {
			return true
		}
	}
	return false
}
