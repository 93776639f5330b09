package email

import (
	"embed"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templateFS embed.FS

func loadTemplates() (*template.Template, error) {
	return template.New("email").Funcs(template.FuncMap{
		"date": func(t time.Time) string { return t.Format("January 2, 2006") },
	}).ParseFS(templateFS, "templates/*.html")
}

type WelcomeEmailData struct {
	Name    string
	Members []string
}

type PenaltyChargedData struct {
	HolderName string
	MemberName string
	Amount     string
}

type SubscriptionCanceledData struct {
	Name      string
	PlanName  string
	CancelsAt time.Time
}

type ReenrollmentFeeNoticeData struct {
	HolderName string
	MemberName string
	CancelsAt  time.Time
	Amount     string
}

type RenewalNoticeData struct {
	HolderName string
	MemberName string
	PlanName   string
	RenewsAt   time.Time
}

func formatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + " " + strings.ToUpper(currency)
}
