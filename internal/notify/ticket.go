// Package notify produces the documents and mail sent to a client once a
// booking is confirmed.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"travelbot/internal/booking"
	"travelbot/internal/browser"
	"travelbot/internal/config"
)

// Airport is the display data printed for a flight leg endpoint.
type Airport struct {
	City     string
	Name     string
	Terminal string
}

var airports = map[string]Airport{
	"TUN": {"TUNIS", "CARTHAGE", "TERMINAL M - MAIN TERMINAL"},
	"ORY": {"PARIS", "ORLY", "TERMINAL 4 - ORLY 4"},
	"CDG": {"PARIS", "CHARLES DE GAULLE", "TERMINAL 2E"},
	"MRS": {"MARSEILLE", "PROVENCE", "TERMINAL 1"},
	"LYS": {"LYON", "SAINT EXUPERY", "TERMINAL 1"},
	"NCE": {"NICE", "COTE D'AZUR", "TERMINAL 2"},
	"TLS": {"TOULOUSE", "BLAGNAC", "TERMINAL 1"},
	"BOD": {"BORDEAUX", "MERIGNAC", "TERMINAL A"},
	"DJE": {"DJERBA", "ZARZIS", "MAIN TERMINAL"},
	"MIR": {"MONASTIR", "HABIB BOURGUIBA", "MAIN TERMINAL"},
}

// AirportInfo falls back to the bare code for airports it does not know.
func AirportInfo(code string) Airport {
	code = strings.ToUpper(strings.TrimSpace(code))
	if a, ok := airports[code]; ok {
		return a
	}
	return Airport{City: code, Name: code, Terminal: "MAIN TERMINAL"}
}

// TicketName renders a passenger as LASTNAME/FIRSTNAME TITLE.
func TicketName(p booking.Passenger) string {
	name := strings.ToUpper(strings.TrimSpace(p.Name))
	if name == "" {
		return "GUEST"
	}
	if len(strings.Fields(name)) < 2 {
		return name
	}
	first, last := booking.SplitName(name)
	title := strings.ToUpper(strings.TrimSpace(p.Title))
	if title == "" {
		title = "MR"
	}
	return fmt.Sprintf("%s/%s %s", last, first, title)
}

type ticketLeg struct {
	Label       string
	Date        string
	From, To    Airport
	FromCode    string
	ToCode      string
	FlightNo    string
	Carrier     string
	Reservation string
}

type ticketView struct {
	Agency    config.AgencyConfig
	Address   []string
	PNR       string
	Issued    string
	Passenger string
	Passport  string
	Legs      []ticketLeg
}

var ticketTmpl = template.Must(template.New("ticket").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 10pt; color: #333; margin: 40px 50px; }
.head { display: flex; justify-content: space-between; }
.agency { color: #663399; font-size: 14pt; }
.leg { border-top: 1px solid #ccc; margin-top: 24px; padding-top: 12px; }
.leg h3 { color: #663399; margin: 0 0 8px; font-size: 11pt; }
td { padding: 2px 12px 2px 0; vertical-align: top; }
.notice { margin-top: 40px; font-size: 8pt; color: #666; text-align: justify; }
</style></head><body>
<div class="head">
  <div>
    <div class="agency">{{.Agency.Name}}</div>
    {{range .Address}}<div>{{.}}</div>{{end}}
    {{with .Agency.Phone}}<div>TELEPHONE: {{.}}</div>{{end}}
  </div>
  <div>
    <div>BOOKING REF: <strong>{{.PNR}}</strong></div>
    <div>DATE: {{.Issued}}</div>
    <p><strong>{{.Passenger}}</strong></p>
    {{with .Passport}}<div>PASSPORT: {{.}}</div>{{end}}
  </div>
</div>
{{range .Legs}}<div class="leg">
  <h3>{{.Label}} - {{.Date}}</h3>
  <table>
    <tr><td>DEPARTURE</td><td>{{.From.City}} ({{.FromCode}}) {{.From.Name}}<br>{{.From.Terminal}}</td></tr>
    <tr><td>ARRIVAL</td><td>{{.To.City}} ({{.ToCode}}) {{.To.Name}}<br>{{.To.Terminal}}</td></tr>
    <tr><td>FLIGHT</td><td>{{.Carrier}} {{.FlightNo}}</td></tr>
    <tr><td>RESERVATION</td><td>{{.Reservation}}</td></tr>
  </table>
</div>{{end}}
<div class="notice">Data Protection Notice: Your personal data will be processed in accordance with the applicable
carrier's privacy policy and, if your booking is made via a reservation system provider ("GDS"), with its
privacy policy. These are available at or from the carrier or GDS directly.</div>
</body></html>`))

const ticketDate = "02 January 2006"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Documents renders e-tickets in a browser and prints them to PDF.
type Documents struct {
	launcher browser.Launcher
	dir      string
	agency   config.AgencyConfig
	now      func() time.Time
	log      zerolog.Logger
}

func NewDocuments(launcher browser.Launcher, dir string, agency config.AgencyConfig, log zerolog.Logger) *Documents {
	return &Documents{
		launcher: launcher,
		dir:      dir,
		agency:   agency,
		now:      time.Now,
		log:      log.With().Str("component", "documents").Logger(),
	}
}

// RenderTicket returns the ticket HTML for one passenger of b.
func (d *Documents) RenderTicket(b *booking.Booking, p booking.Passenger) (string, error) {
	view := ticketView{
		Agency:    d.agency,
		PNR:       b.PNR,
		Issued:    strings.ToUpper(d.now().Format(ticketDate)),
		Passenger: TicketName(p),
		Passport:  p.Passport,
	}
	for _, line := range strings.Split(d.agency.Address, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			view.Address = append(view.Address, line)
		}
	}
	carrier := strings.ToUpper(b.Platform)
	if carrier == "" {
		carrier = "NOUVELAIR"
	}
	leg := func(label string, at *time.Time, from, to string) ticketLeg {
		date := "TBD"
		if at != nil {
			date = strings.ToUpper(at.Format("Monday " + ticketDate))
		}
		return ticketLeg{
			Label:       label,
			Date:        date,
			From:        AirportInfo(from),
			To:          AirportInfo(to),
			FromCode:    strings.ToUpper(from),
			ToCode:      strings.ToUpper(to),
			FlightNo:    b.FlightNumber,
			Carrier:     carrier,
			Reservation: "CONFIRMED",
		}
	}
	view.Legs = append(view.Legs, leg("OUTBOUND", b.FlightDate, b.DepartureAirport, b.ArrivalAirport))
	if b.ReturnDate != nil {
		view.Legs = append(view.Legs, leg("RETURN", b.ReturnDate, b.ArrivalAirport, b.DepartureAirport))
	}

	var buf bytes.Buffer
	if err := ticketTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render ticket: %w", err)
	}
	return buf.String(), nil
}

func (d *Documents) ticketPath(b *booking.Booking, n int, p booking.Passenger) string {
	name := strings.Trim(unsafeName.ReplaceAllString(strings.ToUpper(p.Name), "_"), "_")
	if name == "" {
		name = "GUEST"
	}
	return filepath.Join(d.dir, fmt.Sprintf("TICKET_%s_%d_%s.pdf", b.PNR, n, name))
}

func (d *Documents) print(ctx context.Context, page browser.Page, b *booking.Booking, n int, p booking.Passenger) (string, error) {
	html, err := d.RenderTicket(b, p)
	if err != nil {
		return "", err
	}
	if err := page.SetContent(ctx, html); err != nil {
		return "", fmt.Errorf("load ticket: %w", err)
	}
	path := d.ticketPath(b, n, p)
	if err := page.PDF(ctx, path); err != nil {
		return "", fmt.Errorf("print ticket: %w", err)
	}
	return path, nil
}

func (d *Documents) open(ctx context.Context) (browser.Page, func(), error) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create documents dir: %w", err)
	}
	br, err := d.launcher.Launch(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}
	page, err := br.NewPage(ctx)
	if err != nil {
		_ = br.Close()
		return nil, nil, fmt.Errorf("open page: %w", err)
	}
	return page, func() {
		_ = page.Close()
		_ = br.Close()
	}, nil
}

// GenerateTicketPDF prints the e-ticket of a single passenger.
func (d *Documents) GenerateTicketPDF(ctx context.Context, b *booking.Booking, p booking.Passenger) (string, error) {
	if strings.TrimSpace(b.PNR) == "" {
		return "", fmt.Errorf("booking %s has no reference to print", b.ID)
	}
	page, done, err := d.open(ctx)
	if err != nil {
		return "", err
	}
	defer done()
	return d.print(ctx, page, b, 1, p)
}

// GenerateTickets prints one e-ticket per traveller. A passenger whose
// ticket fails is logged and skipped; an error is returned only when no
// ticket could be produced.
func (d *Documents) GenerateTickets(ctx context.Context, b *booking.Booking) ([]string, error) {
	if strings.TrimSpace(b.PNR) == "" {
		return nil, fmt.Errorf("booking %s has no reference to print", b.ID)
	}
	log := d.log.With().Str("booking_id", b.ID).Logger()
	page, done, err := d.open(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	var (
		paths   []string
		lastErr error
	)
	for i, p := range b.Travellers() {
		path, err := d.print(ctx, page, b, i+1, p)
		if err != nil {
			log.Warn().Err(err).Int("passenger", i+1).Msg("ticket not generated")
			lastErr = err
			continue
		}
		log.Info().Str("path", path).Int("passenger", i+1).Msg("ticket generated")
		paths = append(paths, path)
	}
	if len(paths) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return paths, nil
}
