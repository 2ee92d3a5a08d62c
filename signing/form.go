package signing

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/petitions-gov-je/signatures-backend/models"
)

// Matches normalized UK postcodes, including Crown Dependencies, BFPO
// numbers and GIR 0AA.
var ukPostcode = regexp.MustCompile(`^(GIR0AA|[A-PR-UWYZ]([0-9]{1,2}|[A-HK-Y][0-9]{1,2}|[0-9][A-HJKSTUW]|[A-HK-Y][0-9][ABEHMNPRVWXY])[0-9][ABD-HJLNP-UW-Z]{2}|BFPO[0-9]{1,4})$`)

// Form is a signature form as submitted by a signer.
type Form struct {
	Name          string `json:"name" validate:"required,max=255"`
	Email         string `json:"email" validate:"required,max=255,email"`
	Postcode      string `json:"postcode" validate:"max=255"`
	LocationCode  string `json:"location_code" validate:"required,len=2,alpha"`
	UKCitizenship bool   `json:"uk_citizenship" validate:"eq=true"`
	NotifyByEmail bool   `json:"notify_by_email"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by the names signers' browsers send.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validatePostcode, Form{})
	return v
}

// Postcodes are only needed, and only checked, for signers in the UK.
func validatePostcode(sl validator.StructLevel) {
	form := sl.Current().Interface().(Form)
	if form.LocationCode != models.DefaultLocationCode {
		return
	}
	if len(form.Postcode) == 0 {
		sl.ReportError(form.Postcode, "postcode", "Postcode", "required", "")
	} else if !ukPostcode.MatchString(form.Postcode) {
		sl.ReportError(form.Postcode, "postcode", "Postcode", "postcode", "")
	}
}

var messages = map[string]string{
	"required":              "must be completed",
	"email":                 "must be a valid email address",
	"max":                   "is too long",
	"postcode":              "must be a valid postcode",
	"location_code/len":     "must be a country code",
	"location_code/alpha":   "must be a country code",
	"uk_citizenship/eq":     "must be accepted",
	"uk_citizenship/accept": "must be accepted",
}

func message(field string, rule string) string {
	if msg, ok := messages[field+"/"+rule]; ok {
		return msg
	}
	if msg, ok := messages[rule]; ok {
		return msg
	}
	return "is invalid"
}

// Normalize trims the fields, upper-cases the location code and compacts UK
// postcodes, e.g. "sw1a 1aa" -> "SW1A1AA". An empty location defaults to the UK.
func (f *Form) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.TrimSpace(f.Email)
	f.LocationCode = strings.ToUpper(strings.TrimSpace(f.LocationCode))
	if len(f.LocationCode) == 0 {
		f.LocationCode = models.DefaultLocationCode
	}
	if f.LocationCode == models.DefaultLocationCode {
		f.Postcode = models.NormalizePostcode(f.Postcode)
	} else {
		f.Postcode = strings.TrimSpace(f.Postcode)
	}
}

// Validate checks a normalized form, returning a *ValidationError listing
// every invalid field.
func (f Form) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make([]FieldError, 0, len(invalid))
	for _, fe := range invalid {
		fields = append(fields, FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: message(fe.Field(), fe.Tag()),
		})
	}
	return &ValidationError{Errors: fields}
}

// signature builds an unsaved signature from the form.
func (f Form) signature(petitionID int64, ip string, now time.Time) models.Signature {
	return models.Signature{
		PetitionID:      petitionID,
		Name:            f.Name,
		Email:           f.Email,
		NormalizedEmail: models.NormalizeEmail(f.Email),
		CanonicalEmail:  models.CanonicalEmail(f.Email),
		Postcode:        f.Postcode,
		LocationCode:    f.LocationCode,
		UKCitizenship:   f.UKCitizenship,
		NotifyByEmail:   f.NotifyByEmail,
		IPAddress:       ip,
		State:           models.StatePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
