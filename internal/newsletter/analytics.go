package newsletter

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"newsletterapp/internal/model"
)

// Rollup счетчики рассылки, вычисленные из записей отправок.
// Знаменатель open/click rate - успешно отправленные письма
type Rollup struct {
	Sent      int
	Delivered int
	Opened    int
	Clicked   int
	OpenRate  float64
	ClickRate float64
}

// percent доля part от total в процентах с округлением до сотых. 0 при total = 0
func percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(part) * 100 / float64(total)
	p = math.Round(p*100) / 100
	return math.Max(0, math.Min(100, p))
}

func statusIn(status string, list ...string) bool {
	for _, s := range list {
		if status == s {
			return true
		}
	}
	return false
}

// ComputeRollup счетчики рассылки по ее отправкам
func ComputeRollup(sends []model.NewsletterSend) Rollup {
	var r Rollup
	for _, s := range sends {
		if statusIn(s.Status, model.SuccessfulSendStatuses...) {
			r.Sent++
		}
		if statusIn(s.Status, model.SendDelivered, model.SendOpened, model.SendClicked) {
			r.Delivered++
		}
		if statusIn(s.Status, model.SendOpened, model.SendClicked) {
			r.Opened++
		}
		if s.Status == model.SendClicked {
			r.Clicked++
		}
	}
	r.OpenRate = percent(r.Opened, r.Sent)
	r.ClickRate = percent(r.Clicked, r.Sent)
	return r
}

// ComputeAnalytics аналитика рассылки по ее отправкам. Результат зависит только от sends
func ComputeAnalytics(newsletterID uint, sends []model.NewsletterSend) model.NewsletterAnalytics {
	a := model.NewsletterAnalytics{NewsletterID: newsletterID, TotalSent: len(sends)}

	var hoursSum float64
	var hoursCount int
	for _, s := range sends {
		switch s.Status {
		case model.SendDelivered:
			a.TotalDelivered++
		case model.SendOpened:
			a.TotalDelivered++
			a.TotalOpened++
		case model.SendClicked:
			a.TotalDelivered++
			a.TotalOpened++
			a.TotalClicked++
		case model.SendBounced:
			a.TotalBounced++
		case model.SendUnsubscribed:
			a.TotalUnsubscribed++
		}

		if s.OpenedAt == nil {
			continue
		}
		opened := *s.OpenedAt
		if a.FirstOpenAt == nil || opened.Before(*a.FirstOpenAt) {
			a.FirstOpenAt = timePtr(opened)
		}
		if a.LastOpenAt == nil || opened.After(*a.LastOpenAt) {
			a.LastOpenAt = timePtr(opened)
		}
		if s.SentAt != nil && !opened.Before(*s.SentAt) {
			hoursSum += opened.Sub(*s.SentAt).Hours()
			hoursCount++
		}
	}

	if hoursCount > 0 {
		avg := math.Round(hoursSum/float64(hoursCount)*100) / 100
		a.AverageTimeToOpen = &avg
	}

	a.DeliveryRate = percent(a.TotalDelivered, a.TotalSent)
	a.OpenRate = percent(a.TotalOpened, a.TotalSent)
	a.ClickRate = percent(a.TotalClicked, a.TotalSent)
	a.UnsubscribeRate = percent(a.TotalUnsubscribed, a.TotalSent)
	return a
}

func analyticsKey(newsletterID uint) string {
	return fmt.Sprintf("analytics:%d", newsletterID)
}

// UpdateMetrics пересчитывает и сохраняет аналитику рассылки
func (m *Manager) UpdateMetrics(ctx context.Context, newsletterID uint) (*model.NewsletterAnalytics, error) {
	sends, err := m.store.ListSends(ctx, newsletterID)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить отправки рассылки %d: %w", newsletterID, err)
	}
	a := ComputeAnalytics(newsletterID, sends)
	if err := m.store.SaveAnalytics(ctx, &a); err != nil {
		return nil, fmt.Errorf("не удалось сохранить аналитику рассылки %d: %w", newsletterID, err)
	}
	m.cache.SetDefault(analyticsKey(newsletterID), a)
	return &a, nil
}

// GetAnalytics аналитика рассылки. Берется из кэша, при промахе пересчитывается по отправкам.
// События трекинга сбрасывают кэш, поэтому устаревшая аналитика живет не дольше TTL
func (m *Manager) GetAnalytics(ctx context.Context, caller Caller, newsletterID uint) (*model.NewsletterAnalytics, error) {
	if _, err := m.loadNewsletter(ctx, caller, newsletterID); err != nil {
		return nil, err
	}
	if cached, ok := m.cache.Get(analyticsKey(newsletterID)); ok {
		a := cached.(model.NewsletterAnalytics)
		return &a, nil
	}
	return m.UpdateMetrics(ctx, newsletterID)
}

// RecomputeAnalytics принудительный пересчет аналитики по запросу
func (m *Manager) RecomputeAnalytics(ctx context.Context, caller Caller, newsletterID uint) (*model.NewsletterAnalytics, error) {
	if _, err := m.loadNewsletter(ctx, caller, newsletterID); err != nil {
		return nil, err
	}
	return m.UpdateMetrics(ctx, newsletterID)
}

// invalidateAnalytics сбрасывает аналитику из кэша после события трекинга
func (m *Manager) invalidateAnalytics(newsletterID uint) {
	m.cache.Delete(analyticsKey(newsletterID))
}

// statsPeriods допустимые периоды статистики
var statsPeriods = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
}

// statsListLimit размер списков лучших и последних рассылок в статистике
const statsListLimit = 10

// DailyStats рассылки, созданные за один день
type DailyStats struct {
	Date        string `json:"date"`
	Newsletters int    `json:"newsletters"`
	Sent        int    `json:"sent"`
	Opens       int    `json:"opens"`
	Clicks      int    `json:"clicks"`
}

// EngagementTrends отправленные рассылки по уровню open rate: от 25%, от 10% до 25%, ниже 10%
type EngagementTrends struct {
	High   int `json:"high_engagement"`
	Medium int `json:"medium_engagement"`
	Low    int `json:"low_engagement"`
}

// NewsletterStats сводная статистика рассылок за период
type NewsletterStats struct {
	Period    string    `json:"period"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	Total            int            `json:"total_newsletters"`
	ByStatus         map[string]int `json:"by_status"`
	TotalDraft       int            `json:"total_draft"`
	TotalScheduled   int            `json:"total_scheduled"`
	SubscriberGrowth int64          `json:"subscriber_growth"` // Подписались за период

	TotalRecipients int `json:"total_recipients"`
	TotalSent       int `json:"total_sent"`
	TotalDelivered  int `json:"total_delivered"`
	TotalOpened     int `json:"total_opened"`
	TotalClicked    int `json:"total_clicked"`
	TotalBounces    int `json:"total_bounces"`

	DeliveryRate   float64 `json:"delivery_rate"`
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	BounceRate     float64 `json:"bounce_rate"`
	AvgOpenRate    float64 `json:"avg_open_rate"`
	AvgClickRate   float64 `json:"avg_click_rate"`
	OpenRateChange float64 `json:"open_rate_change"` // Изменение среднего open rate к прошлым 30 дням, только для 30d

	EngagementTrends EngagementTrends   `json:"engagement_trends"`
	TimeSeries       []DailyStats       `json:"time_series"`
	TopPerforming    []model.Newsletter `json:"top_performing_newsletters"`
	Recent           []model.Newsletter `json:"recent_newsletters"`
}

// NewsletterStats статистика рассылок за период (7d, 30d, 90d, 1y). Сотрудники видят все
// рассылки, остальные только свои. Счетчики и rate считаются по отправленным рассылкам:
// open/click rate от доставленных писем, avg_* как среднее rate рассылок
func (m *Manager) NewsletterStats(ctx context.Context, caller Caller, period string) (*NewsletterStats, error) {
	if period == "" {
		period = "30d"
	}
	d, ok := statsPeriods[period]
	if !ok {
		return nil, validationError("period", period, "допустимые значения: 7d 30d 90d 1y")
	}
	if caller.UserID == 0 && !caller.IsStaff {
		return nil, forbiddenError("статистику рассылок", 0)
	}

	var author uint
	if !caller.IsStaff {
		author = caller.UserID
	}
	end := m.now()
	start := end.Add(-d)
	// для 30d нужен еще предыдущий период
	since := start
	if period == "30d" {
		since = start.Add(-d)
	}
	all, err := m.store.ListNewsletters(ctx, since, author)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить рассылки: %w", err)
	}
	var list, previous []model.Newsletter
	for _, n := range all {
		if n.CreatedAt.Before(start) {
			previous = append(previous, n)
			continue
		}
		list = append(list, n)
	}

	stats := &NewsletterStats{
		Period:    period,
		StartDate: start,
		EndDate:   end,
		Total:     len(list),
		ByStatus: map[string]int{
			model.NewsletterDraft:     0,
			model.NewsletterScheduled: 0,
			model.NewsletterSending:   0,
			model.NewsletterSent:      0,
			model.NewsletterCancelled: 0,
		},
		TimeSeries: dailyStats(list, start, end),
		Recent:     recentNewsletters(list),
	}

	var sent []model.Newsletter
	for _, n := range list {
		stats.ByStatus[n.Status]++
		if n.Status == model.NewsletterSent {
			sent = append(sent, n)
		}
	}
	stats.TotalDraft = stats.ByStatus[model.NewsletterDraft]
	stats.TotalScheduled = stats.ByStatus[model.NewsletterScheduled]

	for _, n := range sent {
		stats.TotalRecipients += n.TotalRecipients
		stats.TotalSent += n.TotalSent
		stats.TotalDelivered += n.TotalDelivered
		stats.TotalOpened += n.TotalOpened
		stats.TotalClicked += n.TotalClicked
		switch {
		case n.OpenRate >= 25:
			stats.EngagementTrends.High++
		case n.OpenRate >= 10:
			stats.EngagementTrends.Medium++
		default:
			stats.EngagementTrends.Low++
		}
	}
	stats.TotalBounces = max(stats.TotalSent-stats.TotalDelivered, 0)
	stats.DeliveryRate = percent(stats.TotalDelivered, stats.TotalSent)
	stats.BounceRate = percent(stats.TotalBounces, stats.TotalSent)
	stats.OpenRate = percent(stats.TotalOpened, stats.TotalDelivered)
	stats.ClickRate = percent(stats.TotalClicked, stats.TotalDelivered)
	stats.AvgOpenRate = round2(avgRate(sent, func(n model.Newsletter) float64 { return n.OpenRate }))
	stats.AvgClickRate = round2(avgRate(sent, func(n model.Newsletter) float64 { return n.ClickRate }))
	stats.TopPerforming = topPerforming(sent)

	if period == "30d" {
		var prevSent []model.Newsletter
		for _, n := range previous {
			if n.Status == model.NewsletterSent {
				prevSent = append(prevSent, n)
			}
		}
		prevAvg := avgRate(prevSent, func(n model.Newsletter) float64 { return n.OpenRate })
		if prevAvg > 0 {
			cur := avgRate(sent, func(n model.Newsletter) float64 { return n.OpenRate })
			stats.OpenRateChange = round2((cur - prevAvg) / prevAvg * 100)
		}
	}

	growth, err := m.store.CountSubscribers(ctx, SubscriberFilter{SubscribedAfter: &start})
	if err != nil {
		return nil, fmt.Errorf("не удалось посчитать новых подписчиков: %w", err)
	}
	stats.SubscriberGrowth = growth
	return stats, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func avgRate(list []model.Newsletter, rate func(model.Newsletter) float64) float64 {
	if len(list) == 0 {
		return 0
	}
	var sum float64
	for _, n := range list {
		sum += rate(n)
	}
	return sum / float64(len(list))
}

// dailyStats ряд по календарным дням от start до end включительно
func dailyStats(list []model.Newsletter, start, end time.Time) []DailyStats {
	byDate := make(map[string]*DailyStats)
	var out []DailyStats
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	for !day.After(end) {
		out = append(out, DailyStats{Date: day.Format(time.DateOnly)})
		day = day.AddDate(0, 0, 1)
	}
	for i := range out {
		byDate[out[i].Date] = &out[i]
	}

	for _, n := range list {
		ds, ok := byDate[n.CreatedAt.In(start.Location()).Format(time.DateOnly)]
		if !ok {
			continue
		}
		ds.Newsletters++
		if n.Status == model.NewsletterSent {
			ds.Sent++
			ds.Opens += n.TotalOpened
			ds.Clicks += n.TotalClicked
		}
	}
	return out
}

// topPerforming отправленные рассылки с наибольшим open rate
func topPerforming(sent []model.Newsletter) []model.Newsletter {
	out := append([]model.Newsletter(nil), sent...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenRate > out[j].OpenRate })
	if len(out) > statsListLimit {
		out = out[:statsListLimit]
	}
	return out
}

// recentNewsletters последние созданные рассылки
func recentNewsletters(list []model.Newsletter) []model.Newsletter {
	out := append([]model.Newsletter(nil), list...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > statsListLimit {
		out = out[:statsListLimit]
	}
	return out
}
