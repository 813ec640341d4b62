package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/geoflags/territory/pkg/core"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 16

// PlaceBody places a flag at a point.
type PlaceBody struct {
	Lat   *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon   *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
	Level int      `json:"level" validate:"omitempty,gte=1"`
	Color string   `json:"color" validate:"omitempty,hexcolor"`
}

// AttackBody deals damage.
type AttackBody struct {
	Damage int `json:"damage" validate:"required,gte=1"`
}

// PositionBody is a point on the map.
type PositionBody struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

func (p PositionBody) position() core.Position {
	return core.Position{Lat: *p.Lat, Lon: *p.Lon}
}

// MoveCheckBody asks whether a move from Current to Target is allowed.
type MoveCheckBody struct {
	Current PositionBody `json:"current" validate:"required"`
	Target  PositionBody `json:"target" validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. Every failure is a
// validation error.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.Wrap(core.KindValidation, err, "malformed request body")
	}
	return s.check(dst)
}

func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return core.Wrap(core.KindValidation, err, "invalid request")
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fieldMessage(fe)
	}
	return core.Errorf(core.KindValidation, "%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Namespace(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Namespace(), fe.Param())
	case "hexcolor":
		return fmt.Sprintf("%s must be a hex color", fe.Namespace())
	}
	return fmt.Sprintf("%s is invalid", fe.Namespace())
}

// queryFloat parses a required float query parameter.
func queryFloat(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, core.Errorf(core.KindValidation, "query parameter %s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, core.Wrap(core.KindValidation, err, "query parameter "+name)
	}
	return v, nil
}
