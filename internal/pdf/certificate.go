// Package pdf renders signing certificates as downloadable PDF documents.
package pdf

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/dwellingly/buyersign/internal/errs"
	"github.com/dwellingly/buyersign/internal/model"
	"github.com/dwellingly/buyersign/internal/status"
)

// RenderCertificate writes a one-page certificate PDF for a signed invite.
// Returns ErrNotFound when the invite has no signature yet.
func RenderCertificate(w io.Writer, inv *model.BuyerInvite) error {
	if inv.SignatureData == nil || inv.CertificateID == "" {
		return errs.ErrNotFound
	}
	sig := inv.SignatureData
	tmpl := inv.TemplateSnapshot

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle("Certificate of Signing "+inv.CertificateID, false)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 22)
	doc.CellFormat(0, 14, "Certificate of Signing", "", 1, "C", false, 0, "")

	doc.SetFont("Helvetica", "", 11)
	doc.SetTextColor(90, 90, 90)
	doc.CellFormat(0, 7, inv.CertificateID, "", 1, "C", false, 0, "")
	doc.Ln(6)
	doc.SetTextColor(0, 0, 0)

	row := func(label, value string) {
		doc.SetFont("Helvetica", "B", 10)
		doc.CellFormat(55, 8, label, "", 0, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 10)
		doc.CellFormat(0, 8, value, "", 1, "L", false, 0, "")
	}

	row("Agreement", tmpl.Name)
	row("Jurisdiction", tmpl.Jurisdiction)
	row("Template version", tmpl.Version)
	row("Signer", fmt.Sprintf("%s (%s)", sig.TypedName, status.BuyerInitials(inv.BuyerName)))
	row("Signed at (UTC)", sig.SignedAtUTC.UTC().Format(time.RFC3339))
	row("Browser", sig.UserAgent)
	row("Consent", "Recorded")

	if img, ok := decodeSignatureImage(sig.SignatureImageDataURL); ok {
		doc.Ln(8)
		doc.SetFont("Helvetica", "B", 10)
		doc.CellFormat(0, 8, "Signature", "", 1, "L", false, 0, "")
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		doc.RegisterImageOptionsReader("signature", opts, strings.NewReader(img))
		doc.ImageOptions("signature", doc.GetX(), doc.GetY(), 70, 0, true, opts, 0, "")
	}

	doc.Ln(12)
	doc.SetFont("Helvetica", "I", 8)
	doc.SetTextColor(120, 120, 120)
	doc.MultiCell(0, 5, "This certificate attests that the buyer identified above executed the agreement "+
		"named above through a tokenized invitation link. The full audit trail for this signing is "+
		"retained with the invite record.", "", "L", false)

	return doc.Output(w)
}

// decodeSignatureImage extracts raw PNG bytes from a data URL. Anything that
// is not a well-formed base64 PNG data URL is skipped rather than failing the
// whole render.
func decodeSignatureImage(dataURL string) (string, bool) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, prefix))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}
