package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("15:04", fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("tz", func(fl validator.FieldLevel) bool {
		_, err := time.LoadLocation(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and the rules of the selected source
// and backend.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), redactValue(fe)))
		}
	}

	switch c.Source.Kind {
	case SourcePortal:
		p := c.Source.Portal
		if p.URL == "" {
			errs = append(errs, errors.New("source.portal.url is required"))
		}
		if p.Username == "" {
			errs = append(errs, errors.New("source.portal.username is required"))
		}
		if p.Password == "" && p.PasswordFile == "" {
			errs = append(errs, errors.New("source.portal: password or password_file is required"))
		}
	case SourceICS:
		if c.Source.ICS.HomeworkURL == "" {
			errs = append(errs, errors.New("source.ics.homework_url is required"))
		}
	}

	switch c.Calendar.Backend {
	case BackendGoogle:
		if c.Calendar.CalendarID == "" {
			errs = append(errs, errors.New("calendar.calendar_id is required for the google backend"))
		}
	case BackendICS:
		if c.Calendar.ICSPath == "" {
			errs = append(errs, errors.New("calendar.ics_path is required for the ics backend"))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func redactValue(fe validator.FieldError) any {
	switch fe.Field() {
	case "Password", "HomeworkURL", "EvaluationsURL":
		return "<redacted>"
	}
	return fe.Value()
}

// PortalPassword returns the portal password from the config or from
// password_file, trailing newline removed.
func (c *Config) PortalPassword() ([]byte, error) {
	p := c.Source.Portal
	if p.Password != "" {
		return []byte(p.Password), nil
	}
	if p.PasswordFile == "" {
		return nil, fmt.Errorf("%w: no portal password configured", ErrInvalid)
	}
	data, err := os.ReadFile(p.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("read portal password file: %w", err)
	}
	data = bytes.TrimRight(data, "\r\n")
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: portal password file is empty", ErrInvalid)
	}
	return data, nil
}

// Location loads Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
