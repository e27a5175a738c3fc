package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/config"
)

// Mailer delivers confirmation mail. sent is false when nothing went out.
type Mailer interface {
	SendConfirmation(ctx context.Context, email, name string, pdfPaths []string) (sent bool, err error)
	SendFlightConfirmation(ctx context.Context, b *booking.Booking, pdfPaths []string) (sent bool, err error)
}

// Message is a rendered mail ready for delivery.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []string
}

var hotelMail = template.Must(template.New("hotel").Parse(`<div style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto; border: 1px solid #ddd; padding: 20px;">
<h2 style="color: #003580; text-align: center;">Booking Confirmed!</h2>
<p>Dear <strong>{{.Name}}</strong>,</p>
<p>Thank you for choosing our services. We are pleased to confirm your reservation.</p>
{{if .Attached}}<p><strong>Please find your official electronic ticket attached to this email.</strong></p>{{end}}
<p style="font-size: 12px; color: gray; text-align: center; margin-top: 30px;">Safe travels,<br>{{.Agency}} Team</p>
</div>`))

var flightMail = template.Must(template.New("flight").Parse(`<div style="font-family: 'Segoe UI', Arial, sans-serif; color: #333; max-width: 650px; margin: 0 auto; padding: 20px;">
<h1 style="color: #663399; font-size: 24px;">Your Flight is Confirmed!</h1>
<p>Booking Reference: <strong style="font-size: 20px;">{{.PNR}}</strong></p>
<p>Dear <strong>{{.Name}}</strong>,</p>
<p>Thank you for booking with us. Your flight reservation has been confirmed.</p>
<table style="width: 100%; border-collapse: collapse;">
<tr><td>Route</td><td><strong>{{.From}} &rarr; {{.To}}</strong></td></tr>
<tr><td>Departure Date</td><td><strong>{{.Depart}}</strong></td></tr>
{{with .Return}}<tr><td>Return Date</td><td><strong>{{.}}</strong></td></tr>{{end}}
{{with .FlightNo}}<tr><td>Flight</td><td><strong>{{.}}</strong></td></tr>{{end}}
<tr><td>Passengers</td><td>{{.Passengers}}</td></tr>
</table>
<p>{{.Tickets}} e-ticket(s) attached. Please arrive at the airport at least 2 hours before departure.</p>
<p style="font-size: 12px; color: gray; text-align: center; margin-top: 30px;">Safe travels,<br>{{.Agency}} Team</p>
</div>`))

const mailDate = "Monday, 2 January 2006"

// ComposeConfirmation builds the hotel confirmation mail.
func ComposeConfirmation(agency, email, name string, pdfPaths []string) (Message, error) {
	var buf bytes.Buffer
	err := hotelMail.Execute(&buf, map[string]interface{}{
		"Name":     name,
		"Agency":   agency,
		"Attached": len(pdfPaths) > 0,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:          email,
		Subject:     "Your Booking Confirmation & Ticket",
		HTML:        buf.String(),
		Attachments: pdfPaths,
	}, nil
}

// ComposeFlightConfirmation builds the flight confirmation mail listing
// every traveller.
func ComposeFlightConfirmation(agency string, b *booking.Booking, pdfPaths []string) (Message, error) {
	from, to := strings.ToUpper(b.DepartureAirport), strings.ToUpper(b.ArrivalAirport)
	if from == "" {
		from = "TUN"
	}
	if to == "" {
		to = "DEST"
	}
	pnr := b.PNR
	if pnr == "" {
		pnr = "PENDING"
	}
	depart, ret := "TBD", ""
	if b.FlightDate != nil {
		depart = b.FlightDate.Format(mailDate)
	}
	if b.ReturnDate != nil {
		ret = b.ReturnDate.Format(mailDate)
	}
	var names []string
	for _, p := range b.Travellers() {
		names = append(names, p.Name)
	}

	var buf bytes.Buffer
	err := flightMail.Execute(&buf, map[string]interface{}{
		"PNR":        pnr,
		"Name":       b.ClientName,
		"From":       from,
		"To":         to,
		"Depart":     depart,
		"Return":     ret,
		"FlightNo":   b.FlightNumber,
		"Passengers": strings.Join(names, ", "),
		"Tickets":    len(pdfPaths),
		"Agency":     agency,
	})
	if err != nil {
		return Message{}, err
	}
	subject := fmt.Sprintf("Flight Confirmation - %s to %s | %s", from, to, pnr)
	return Message{To: b.Email, Subject: subject, HTML: buf.String(), Attachments: pdfPaths}, nil
}

// Encode renders m as a MIME message with base64 attachments.
func Encode(from string, m Message, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	headers := [][2]string{
		{"From", from},
		{"To", m.To},
		{"Subject", mime.QEncoding.Encode("utf-8", m.Subject)},
		{"Date", now.Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "multipart/mixed; boundary=" + w.Boundary()},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("\r\n")

	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(part, []byte(m.HTML)); err != nil {
		return nil, err
	}

	for _, path := range m.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", filepath.Base(path), err)
		}
		name := filepath.Base(path)
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {mime.FormatMediaType("application/pdf", map[string]string{"name": name})},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64(part, data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBase64 wraps encoded lines at 76 characters.
func writeBase64(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := fmt.Fprintf(w, "%s\r\n", enc[:76]); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := fmt.Fprintf(w, "%s\r\n", enc)
	return err
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP sends mail through an authenticated SMTP relay.
type SMTP struct {
	cfg    config.SMTPConfig
	agency string
	send   sendFunc
	now    func() time.Time
	log    zerolog.Logger
}

func NewSMTP(cfg config.SMTPConfig, agency string, log zerolog.Logger) *SMTP {
	return &SMTP{
		cfg:    cfg,
		agency: agency,
		send:   smtp.SendMail,
		now:    time.Now,
		log:    log.With().Str("component", "mailer").Logger(),
	}
}

func (s *SMTP) sender() string {
	if s.cfg.From != "" {
		return s.cfg.From
	}
	return s.cfg.User
}

func (s *SMTP) deliver(ctx context.Context, m Message) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(m.To) == "" {
		return false, errors.New("no recipient address")
	}
	from := (&mail.Address{Name: s.agency, Address: s.sender()}).String()
	msg, err := Encode(from, m, s.now())
	if err != nil {
		return false, err
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	if err := s.send(addr, auth, s.sender(), []string{m.To}, msg); err != nil {
		return false, fmt.Errorf("send to %s: %w", m.To, err)
	}
	s.log.Info().Str("to", m.To).Int("attachments", len(m.Attachments)).Msg("confirmation sent")
	return true, nil
}

func (s *SMTP) SendConfirmation(ctx context.Context, email, name string, pdfPaths []string) (bool, error) {
	m, err := ComposeConfirmation(s.agency, email, name, pdfPaths)
	if err != nil {
		return false, err
	}
	return s.deliver(ctx, m)
}

func (s *SMTP) SendFlightConfirmation(ctx context.Context, b *booking.Booking, pdfPaths []string) (bool, error) {
	m, err := ComposeFlightConfirmation(s.agency, b, pdfPaths)
	if err != nil {
		return false, err
	}
	return s.deliver(ctx, m)
}

// LogMailer stands in when no SMTP relay is configured.
type LogMailer struct {
	Log zerolog.Logger
}

func (l LogMailer) SendConfirmation(_ context.Context, email, name string, pdfPaths []string) (bool, error) {
	l.Log.Info().Str("to", email).Str("name", name).Strs("attachments", pdfPaths).Msg("smtp not configured, confirmation not sent")
	return false, nil
}

func (l LogMailer) SendFlightConfirmation(_ context.Context, b *booking.Booking, pdfPaths []string) (bool, error) {
	l.Log.Info().Str("to", b.Email).Str("pnr", b.PNR).Strs("attachments", pdfPaths).Msg("smtp not configured, confirmation not sent")
	return false, nil
}

// FromConfig picks the SMTP mailer when a relay and credentials are set.
func FromConfig(cfg config.SMTPConfig, agency string, log zerolog.Logger) Mailer {
	if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
		return LogMailer{Log: log.With().Str("component", "mailer").Logger()}
	}
	return NewSMTP(cfg, agency, log)
}
