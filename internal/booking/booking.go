// Package booking holds the booking record, the failure taxonomy of the
// purchase pipeline, and the synchronizer that applies pipeline outcomes to
// persisted records.
package booking

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"travelbot/internal/dates"
	"travelbot/internal/money"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusConfirmed  Status = "Confirmed"
	StatusFailed     Status = "Failed"
	StatusCancelled  Status = "Cancelled"
)

type ServiceKind string

const (
	Hotel  ServiceKind = "Hotel"
	Flight ServiceKind = "Flight"
)

type Passenger struct {
	Name        string     `json:"name"`
	Passport    string     `json:"passport,omitempty"`
	DOB         *time.Time `json:"dob,omitempty"`
	Nationality string     `json:"nationality,omitempty"`
	Title       string     `json:"title,omitempty"`
}

// Passengers is stored as a JSON document.
type Passengers []Passenger

func (p Passengers) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

func (p *Passengers) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return fmt.Errorf("booking: cannot scan %T into Passengers", src)
}

type Booking struct {
	ID string `db:"id" json:"id"`

	ClientName     string     `db:"client_name" json:"clientName" validate:"required"`
	Email          string     `db:"email" json:"email" validate:"required,email"`
	Phone          string     `db:"phone" json:"phone,omitempty"`
	Country        string     `db:"country" json:"country,omitempty"`
	PassportNumber string     `db:"passport_number" json:"passportNumber,omitempty"`
	PassengerDOB   *time.Time `db:"passenger_dob" json:"passengerDOB,omitempty"`
	Passengers     Passengers `db:"passengers" json:"passengers,omitempty" validate:"dive"`

	Adults   int `db:"adults" json:"adults" validate:"gte=0"`
	Children int `db:"children" json:"children" validate:"gte=0"`
	Infants  int `db:"infants" json:"infants" validate:"gte=0"`

	Service  ServiceKind `db:"service_type" json:"serviceType" validate:"oneof=Hotel Flight"`
	Platform string      `db:"platform" json:"platform,omitempty"`

	Destination string      `db:"destination" json:"destination,omitempty" validate:"required_if=Service Hotel"`
	CheckIn     *time.Time  `db:"check_in" json:"checkInDate,omitempty" validate:"required_if=Service Hotel"`
	CheckOut    *time.Time  `db:"check_out" json:"checkOutDate,omitempty" validate:"required_if=Service Hotel"`
	AdultsCount int         `db:"adults_count" json:"adultsCount" validate:"gte=0"`
	MinPrice    money.Cents `db:"min_price_cents" json:"minPrice" validate:"gte=0"`
	MaxPrice    money.Cents `db:"max_price_cents" json:"maxPrice" validate:"gtefield=MinPrice"`
	Deadline    *time.Time  `db:"free_cancellation_deadline" json:"freeCancellationDeadline,omitempty"`
	HotelName   string      `db:"hotel_name" json:"hotelName,omitempty"`
	Address     string      `db:"hotel_address" json:"hotelAddress,omitempty"`

	DepartureAirport string     `db:"departure_airport" json:"departureAirport,omitempty" validate:"required_if=Service Flight"`
	ArrivalAirport   string     `db:"arrival_airport" json:"arrivalAirport,omitempty" validate:"required_if=Service Flight"`
	FlightDate       *time.Time `db:"flight_date" json:"flightDate,omitempty" validate:"required_if=Service Flight"`
	ReturnDate       *time.Time `db:"return_date" json:"returnDate,omitempty"`
	FlightNumber     string     `db:"flight_number" json:"flightNumber,omitempty"`

	PNR      string      `db:"pnr" json:"pnr,omitempty"`
	Price    money.Cents `db:"price_cents" json:"price"`
	Currency string      `db:"currency" json:"currency,omitempty"`

	Status       Status `db:"status" json:"status"`
	Attempts     int    `db:"attempts" json:"attempts"`
	ErrorMessage string `db:"error_message" json:"errorMessage,omitempty"`
	NeedsReview  bool   `db:"needs_review" json:"needsReview"`
	Note         string `db:"note" json:"note,omitempty"`

	PDFPath        string `db:"pdf_path" json:"pdfPath,omitempty"`
	ScreenshotPath string `db:"screenshot_path" json:"screenshotPath,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

var validate = validator.New()

// Validate checks that b carries what its service kind needs to be booked.
func (b *Booking) Validate() error {
	if err := validate.Struct(b); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid booking: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// Eligible reports whether a worker may pick b up: Pending, no reference,
// and the columns its service kind searches with. Anything else wrong with
// the record is left to Validate so the run can fail it.
func (b *Booking) Eligible() bool {
	if b.Status != StatusPending || strings.TrimSpace(b.PNR) != "" {
		return false
	}
	switch b.Service {
	case Hotel:
		return strings.TrimSpace(b.Destination) != "" && b.CheckIn != nil && b.CheckOut != nil
	case Flight:
		return strings.TrimSpace(b.DepartureAirport) != "" && strings.TrimSpace(b.ArrivalAirport) != "" &&
			b.FlightDate != nil
	}
	return false
}

func (b *Booking) Nights() int {
	if b.CheckIn == nil || b.CheckOut == nil {
		return 1
	}
	return dates.Nights(*b.CheckIn, *b.CheckOut)
}

func (b *Booking) Band() money.Band {
	return money.Band{Min: b.MinPrice, Max: b.MaxPrice}
}

// Guests is the adult count used for hotel searches.
func (b *Booking) Guests() int {
	if b.AdultsCount > 0 {
		return b.AdultsCount
	}
	if b.Adults > 0 {
		return b.Adults
	}
	return 1
}

// Travellers lists every passenger, falling back to the lead client when no
// passenger list was given.
func (b *Booking) Travellers() []Passenger {
	if len(b.Passengers) > 0 {
		return b.Passengers
	}
	return []Passenger{{
		Name:        b.ClientName,
		Passport:    b.PassportNumber,
		DOB:         b.PassengerDOB,
		Nationality: b.Country,
	}}
}

// SplitName splits a full name into first and last name; the last word is
// the last name.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

func (b *Booking) Clone() *Booking {
	c := *b
	if b.Passengers != nil {
		c.Passengers = append(Passengers(nil), b.Passengers...)
	}
	return &c
}
