package template

import (
	"bytes"
	"fmt"
	"image/png"
	"strconv"

	"github.com/signintech/gopdf"

	"ms-engagements/internal/models"
)

type TicketPDFGenerator struct {
	fontPath string
}

func NewTicketPDFGenerator(fontPath string) *TicketPDFGenerator {
	return &TicketPDFGenerator{fontPath: fontPath}
}

// Generate lays out a printable A4 ticket. qrCode is a PNG and may be empty.
func (g *TicketPDFGenerator) Generate(ticket models.Ticket, event *models.Event, qrCode []byte) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFont("dejavu", g.fontPath); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	if err := pdf.SetFont("dejavu", "", 14); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}

	addHeader(pdf, event)

	pdf.SetY(80)
	addTicketInfo(pdf, ticket, event)

	if len(qrCode) > 0 {
		pdf.SetY(pdf.GetY() + 20)
		addQRCode(pdf, qrCode)
	}

	pdf.SetY(760)
	addFooter(pdf)

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func addHeader(pdf *gopdf.GoPdf, event *models.Event) {
	pdf.SetX(40)
	pdf.SetY(30)
	title := "EVENT TICKET"
	if event != nil && event.Name != "" {
		title = event.Name
	}
	pdf.Cell(nil, title)
}

func addTicketInfo(pdf *gopdf.GoPdf, ticket models.Ticket, event *models.Event) {
	info := []struct {
		Label string
		Value string
	}{
		{"Ticket ID", ticket.ID},
		{"Event ID", ticket.EventID},
		{"Holder", ticket.HolderID},
		{"Admits", strconv.Itoa(ticket.Quantity)},
		{"Status", string(ticket.Status)},
		{"Issued At", ticket.IssuedAt.UTC().Format("2006-01-02 15:04 MST")},
	}
	if event != nil && !event.StartsAt.IsZero() {
		info = append(info, struct {
			Label string
			Value string
		}{"Starts At", event.StartsAt.UTC().Format("2006-01-02 15:04 MST")})
	}

	for _, item := range info {
		pdf.SetX(40)
		pdf.Cell(nil, item.Label+": "+item.Value)
		pdf.Br(20)
	}
}

func addQRCode(pdf *gopdf.GoPdf, qrCode []byte) {
	img, err := png.Decode(bytes.NewReader(qrCode))
	if err != nil {
		pdf.Cell(nil, "Failed to load QR code")
		return
	}

	rect := &gopdf.Rect{W: 160, H: 160}
	if err := pdf.ImageFrom(img, 40, pdf.GetY(), rect); err != nil {
		pdf.Cell(nil, "Failed to draw QR code")
	}
}

func addFooter(pdf *gopdf.GoPdf) {
	pdf.SetX(40)
	pdf.Cell(nil, "Present this code at the entrance. Each ticket admits once.")
}
