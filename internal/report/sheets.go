package report

import (
	"context"
	"fmt"
	"time"

	"newsletterapp/internal/model"
	"newsletterapp/internal/newsletter"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Sheets выгружает аналитику отправленных рассылок строками в Google таблицу
type Sheets struct {
	service  *sheets.Service
	tableID  string
	listName string
}

var _ newsletter.Exporter = (*Sheets)(nil)

// NewSheets создает сервис Google Sheets. Без opts используется файл учетных данных
func NewSheets(ctx context.Context, credentialsFile, tableID, listName string, opts ...option.ClientOption) (*Sheets, error) {
	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsFile(credentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		}
	}
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("не удается инициализировать сервис Google Sheets: %v", err)
	}
	return &Sheets{service: service, tableID: tableID, listName: listName}, nil
}

// Row строка отчета по рассылке
func Row(n *model.Newsletter, a *model.NewsletterAnalytics) []interface{} {
	sentAt := ""
	if n.SentAt != nil {
		sentAt = n.SentAt.UTC().Format(time.RFC3339)
	}
	avg := ""
	if a.AverageTimeToOpen != nil {
		avg = fmt.Sprintf("%.2f", *a.AverageTimeToOpen)
	}
	return []interface{}{
		n.ID,
		n.Title,
		sentAt,
		n.TotalRecipients,
		a.TotalSent,
		a.TotalDelivered,
		a.TotalBounced,
		a.TotalOpened,
		a.TotalClicked,
		a.TotalUnsubscribed,
		a.DeliveryRate,
		a.OpenRate,
		a.ClickRate,
		a.UnsubscribeRate,
		avg,
	}
}

// ExportAnalytics добавляет строку аналитики в конец листа
func (s *Sheets) ExportAnalytics(ctx context.Context, n *model.Newsletter, a *model.NewsletterAnalytics) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{Row(n, a)}}
	_, err := s.service.Spreadsheets.Values.
		Append(s.tableID, s.listName+"!A1", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("не удалось добавить строку в таблицу отчета: %w", err)
	}
	return nil
}
