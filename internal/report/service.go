// Package report delivers provider escalations: a short alert message
// followed by a PDF summary.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/signintech/gopdf"

	"adherence-guardian/internal/capability"
	"adherence-guardian/internal/config"
)

const (
	fontName   = "DejaVu"
	textWidth  = 500
	pageBottom = 780
)

// ErrNoFont is returned by Render when none of the configured fonts load.
var ErrNoFont = errors.New("no usable font for PDF report")

type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, data []byte, fileName, caption string) error
}

type Service struct {
	tg        Messenger
	chatID    int64
	fontPaths []string
	log       zerolog.Logger
}

func NewService(tg Messenger, tc config.TelegramConfig, rc config.ReportConfig, log zerolog.Logger) *Service {
	return &Service{
		tg:        tg,
		chatID:    tc.ProviderChatID,
		fontPaths: rc.FontPaths,
		log:       log.With().Str("component", "report").Logger(),
	}
}

// NotifyProvider sends the alert text, then the PDF. A PDF that cannot be
// rendered is logged and skipped; the alert has already gone out.
func (s *Service) NotifyProvider(ctx context.Context, e capability.Escalation) error {
	log := s.log.With().Str("report_id", e.ReportID.String()).Str("level", string(e.Level)).Logger()

	if err := s.tg.SendMessage(ctx, s.chatID, AlertText(e)); err != nil {
		return fmt.Errorf("send provider alert: %w", err)
	}

	pdf, err := s.Render(e)
	if err != nil {
		log.Warn().Err(err).Msg("skipping PDF report")
		return nil
	}

	fileName := fmt.Sprintf("escalation_%s.pdf", e.ReportID)
	if err := s.tg.SendDocument(ctx, s.chatID, pdf, fileName, "Adherence escalation report"); err != nil {
		return fmt.Errorf("send provider report: %w", err)
	}
	log.Info().Int("bytes", len(pdf)).Msg("escalation report sent")
	return nil
}

// AlertText is the plain text message sent ahead of the PDF.
func AlertText(e capability.Escalation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Adherence escalation: %s\n", strings.ToUpper(string(e.Level)))
	fmt.Fprintf(&b, "Patient: %s\n", patientLabel(e))
	fmt.Fprintf(&b, "Adherence: %.1f%%\n", e.AdherencePercent)
	fmt.Fprintf(&b, "Response: %s\n", e.Timeframe.Describe())
	if len(e.Concerns) > 0 {
		b.WriteString("\nConcerns:\n")
		for _, c := range e.Concerns {
			fmt.Fprintf(&b, "- [%s] %s\n", c.Level, c.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func patientLabel(e capability.Escalation) string {
	if e.PatientName == "" {
		return e.PatientID.String()
	}
	return fmt.Sprintf("%s (%s)", e.PatientName, e.PatientID)
}

// Render lays the escalation out as an A4 PDF.
func (s *Service) Render(e capability.Escalation) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := s.loadFont(pdf); err != nil {
		return nil, err
	}

	w := &writer{pdf: pdf}
	w.line(20, "Medication Adherence Escalation", 30)
	w.line(12, fmt.Sprintf("Generated: %s", e.GeneratedAt.Format("2006-01-02 15:04")), 15)
	w.line(12, fmt.Sprintf("Patient: %s", patientLabel(e)), 15)
	w.line(12, fmt.Sprintf("Level: %s (%s)", e.Level, e.Timeframe.Describe()), 15)
	w.line(12, fmt.Sprintf("Adherence: %.1f%%", e.AdherencePercent), 25)

	if e.Summary != "" {
		w.line(14, "Summary", 15)
		w.paragraph(11, e.Summary)
		w.gap(10)
	}

	w.line(14, "Concerns", 15)
	if len(e.Concerns) == 0 {
		w.line(11, "- None recorded.", 15)
	}
	for _, c := range e.Concerns {
		w.paragraph(11, fmt.Sprintf("- [%s] %s (%s)", c.Level, c.Description, c.Source))
	}
	w.gap(10)

	if len(e.Recommendations) > 0 {
		w.line(14, "Recommendations", 15)
		for _, r := range e.Recommendations {
			w.paragraph(11, "- "+r)
		}
	}
	if w.err != nil {
		return nil, fmt.Errorf("failed to lay out PDF: %w", w.err)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) loadFont(pdf *gopdf.GoPdf) error {
	var lastErr error
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont(fontName, path); err != nil {
			lastErr = err
			continue
		}
		s.log.Debug().Str("path", path).Msg("loaded report font")
		return nil
	}
	if lastErr == nil {
		return ErrNoFont
	}
	return fmt.Errorf("%w: %w", ErrNoFont, lastErr)
}

// writer keeps the first layout error so callers can check once at the end.
type writer struct {
	pdf *gopdf.GoPdf
	err error
}

func (w *writer) font(size float64) {
	if w.err == nil {
		w.err = w.pdf.SetFont(fontName, "", size)
	}
}

func (w *writer) line(size float64, text string, advance float64) {
	w.font(size)
	if w.err != nil {
		return
	}
	if w.pdf.GetY() > pageBottom {
		w.pdf.AddPage()
	}
	w.err = w.pdf.Cell(nil, text)
	w.pdf.Br(advance)
}

func (w *writer) paragraph(size float64, text string) {
	w.font(size)
	if w.err != nil {
		return
	}
	lines, err := w.pdf.SplitText(text, textWidth)
	if err != nil {
		w.err = err
		return
	}
	for _, l := range lines {
		w.line(size, l, 12)
	}
	w.gap(5)
}

func (w *writer) gap(h float64) {
	if w.err == nil {
		w.pdf.Br(h)
	}
}

// LogNotifier stands in when no Telegram bot is configured.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) NotifyProvider(_ context.Context, e capability.Escalation) error {
	n.Log.Warn().
		Str("report_id", e.ReportID.String()).
		Str("patient_id", e.PatientID.String()).
		Str("level", string(e.Level)).
		Float64("adherence_percent", e.AdherencePercent).
		Int("concerns", len(e.Concerns)).
		Msg("provider escalation (telegram not configured)")
	return nil
}
