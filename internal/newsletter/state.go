package newsletter

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"newsletterapp/internal/infrastructure/logger"
	"newsletterapp/internal/model"
)

const summaryLength = 200

// CreateInput данные новой рассылки
type CreateInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Subject     string `json:"subject" validate:"required,max=200"`
	Content     string `json:"content" validate:"required"`
	HTMLContent string `json:"html_content"`
	Summary     string `json:"summary"`
	TemplateID  *uint  `json:"template_id"`
}

// UpdateInput изменение полей рассылки. nil - поле не меняется
type UpdateInput struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Subject     *string `json:"subject" validate:"omitempty,max=200"`
	Content     *string `json:"content"`
	HTMLContent *string `json:"html_content"`
	Summary     *string `json:"summary"`
	TemplateID  *uint   `json:"template_id"`
	Status      *string `json:"status"`
}

// TemplateInput данные нового шаблона
type TemplateInput struct {
	Name            string `json:"name" validate:"required,max=100"`
	SubjectTemplate string `json:"subject_template" validate:"required,max=200"`
	HTMLTemplate    string `json:"html_template" validate:"required"`
	TextTemplate    string `json:"text_template"`
}

// editableStatuses статусы, в которых можно менять содержимое рассылки
var editableStatuses = []string{model.NewsletterDraft, model.NewsletterScheduled}

// summarize первые 200 символов содержимого
func summarize(content string) string {
	if utf8.RuneCountInString(content) <= summaryLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:summaryLength]) + "..."
}

// CreateNewsletter создает черновик рассылки от имени caller
func (m *Manager) CreateNewsletter(ctx context.Context, caller Caller, in CreateInput) (*model.Newsletter, error) {
	if caller.UserID == 0 {
		return nil, forbiddenError("создание рассылки", 0)
	}
	if err := m.validateStruct(in); err != nil {
		return nil, err
	}
	if in.TemplateID != nil {
		if _, err := m.store.GetTemplate(ctx, *in.TemplateID); err != nil {
			return nil, notFound(err, "шаблон", *in.TemplateID)
		}
	}

	n := &model.Newsletter{
		Title:       in.Title,
		Subject:     in.Subject,
		Content:     in.Content,
		HTMLContent: in.HTMLContent,
		Summary:     in.Summary,
		Status:      model.NewsletterDraft,
		AuthorID:    caller.UserID,
		TemplateID:  in.TemplateID,
	}
	if n.Summary == "" {
		n.Summary = summarize(n.Content)
	}

	if err := m.store.CreateNewsletter(ctx, n); err != nil {
		return nil, fmt.Errorf("не удалось создать рассылку: %w", err)
	}
	logger.Infof("Создана рассылка %d (%s), автор %d", n.ID, n.Title, n.AuthorID)
	return n, nil
}

// GetNewsletter рассылка по ID
func (m *Manager) GetNewsletter(ctx context.Context, caller Caller, id uint) (*model.Newsletter, error) {
	return m.loadNewsletter(ctx, caller, id)
}

// UpdateNewsletter меняет поля рассылки. Статус так поменять нельзя: для этого есть
// отправка, планирование и отмена. У отправленной и отмененной рассылки статус неизменен
func (m *Manager) UpdateNewsletter(ctx context.Context, caller Caller, id uint, in UpdateInput) (*model.Newsletter, error) {
	n, err := m.loadNewsletter(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := m.validateStruct(in); err != nil {
		return nil, err
	}

	if in.Status != nil && *in.Status != n.Status {
		switch n.Status {
		case model.NewsletterSent:
			return nil, validationError("status", *in.Status, "нельзя изменить статус отправленной рассылки")
		case model.NewsletterCancelled:
			return nil, validationError("status", *in.Status, "нельзя изменить статус отмененной рассылки")
		default:
			return nil, validationError("status", *in.Status, "статус меняется только отправкой, планированием или отменой")
		}
	}

	fields := map[string]interface{}{}
	if in.Title != nil {
		fields["title"] = *in.Title
	}
	if in.Subject != nil {
		fields["subject"] = *in.Subject
	}
	if in.Content != nil {
		if *in.Content == "" {
			return nil, validationError("content", "", "обязательное поле")
		}
		fields["content"] = *in.Content
		if in.Summary == nil {
			fields["summary"] = summarize(*in.Content)
		}
	}
	if in.HTMLContent != nil {
		fields["html_content"] = *in.HTMLContent
	}
	if in.Summary != nil {
		fields["summary"] = *in.Summary
	}
	if in.TemplateID != nil {
		if _, err := m.store.GetTemplate(ctx, *in.TemplateID); err != nil {
			return nil, notFound(err, "шаблон", *in.TemplateID)
		}
		fields["template_id"] = *in.TemplateID
	}
	if len(fields) == 0 {
		return n, nil
	}

	ok, err := m.store.UpdateNewsletterIf(ctx, id, NewsletterCond{Statuses: editableStatuses}, fields)
	if err != nil {
		return nil, fmt.Errorf("не удалось обновить рассылку %d: %w", id, err)
	}
	if !ok {
		return nil, transitionError("рассылки", n.Status, "рассылку нельзя редактировать после начала отправки")
	}
	return m.store.GetNewsletter(ctx, id)
}

// RequestSend переводит черновик в отправку и ставит массовую отправку в фоновую очередь.
// Возвращает ID фоновой задачи
func (m *Manager) RequestSend(ctx context.Context, caller Caller, id uint) (string, error) {
	n, err := m.loadNewsletter(ctx, caller, id)
	if err != nil {
		return "", err
	}
	if n.Status != model.NewsletterDraft {
		return "", transitionError("рассылки", n.Status, "отправить можно только черновик")
	}

	ok, err := m.store.UpdateNewsletterIf(ctx, id,
		NewsletterCond{Statuses: []string{model.NewsletterDraft}},
		map[string]interface{}{"status": model.NewsletterSending},
	)
	if err != nil {
		return "", fmt.Errorf("не удалось начать отправку рассылки %d: %w", id, err)
	}
	if !ok {
		return "", transitionError("рассылки", n.Status, "рассылка уже отправляется")
	}

	taskID := m.submitBulk(id)
	logger.Infof("Рассылка %d поставлена в очередь на отправку, задача %s", id, taskID)
	return taskID, nil
}

// Schedule планирует отправку на время at. Время обязательно и должно быть в будущем
func (m *Manager) Schedule(ctx context.Context, caller Caller, id uint, at *time.Time) (*model.Newsletter, error) {
	n, err := m.loadNewsletter(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if at == nil || at.IsZero() {
		return nil, validationError("scheduled_at", nil, "обязательное поле")
	}
	if !at.After(m.now()) {
		return nil, validationError("scheduled_at", at.Format(time.RFC3339), "время отправки должно быть в будущем")
	}
	if n.Status != model.NewsletterDraft && n.Status != model.NewsletterScheduled {
		return nil, transitionError("рассылки", n.Status, "запланировать можно только черновик или запланированную рассылку")
	}

	ok, err := m.store.UpdateNewsletterIf(ctx, id,
		NewsletterCond{Statuses: editableStatuses},
		map[string]interface{}{"status": model.NewsletterScheduled, "scheduled_at": *at},
	)
	if err != nil {
		return nil, fmt.Errorf("не удалось запланировать рассылку %d: %w", id, err)
	}
	if !ok {
		return nil, transitionError("рассылки", n.Status, "статус рассылки изменился")
	}

	if m.tasks != nil {
		taskID := m.tasks.SubmitAt(fmt.Sprintf("scheduled_newsletter:%d", id), *at, func(ctx context.Context) error {
			_, err := m.triggerOne(ctx, id)
			return err
		})
		logger.Infof("Рассылка %d запланирована на %s, задача %s", id, at.Format(time.RFC3339), taskID)
	}
	return m.store.GetNewsletter(ctx, id)
}

// Cancel отменяет черновик или запланированную рассылку
func (m *Manager) Cancel(ctx context.Context, caller Caller, id uint) (*model.Newsletter, error) {
	n, err := m.loadNewsletter(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if n.Status != model.NewsletterDraft && n.Status != model.NewsletterScheduled {
		return nil, transitionError("рассылки", n.Status, "отменить можно только черновик или запланированную рассылку")
	}

	ok, err := m.store.UpdateNewsletterIf(ctx, id,
		NewsletterCond{Statuses: editableStatuses},
		map[string]interface{}{"status": model.NewsletterCancelled},
	)
	if err != nil {
		return nil, fmt.Errorf("не удалось отменить рассылку %d: %w", id, err)
	}
	if !ok {
		return nil, transitionError("рассылки", n.Status, "статус рассылки изменился")
	}
	logger.Infof("Рассылка %d отменена", id)
	return m.store.GetNewsletter(ctx, id)
}

// CreateTemplate добавляет шаблон письма
func (m *Manager) CreateTemplate(ctx context.Context, caller Caller, in TemplateInput) (*model.NewsletterTemplate, error) {
	if err := requireStaff(caller, "создание шаблона", 0); err != nil {
		return nil, err
	}
	if err := m.validateStruct(in); err != nil {
		return nil, err
	}
	t := &model.NewsletterTemplate{
		Name:            in.Name,
		SubjectTemplate: in.SubjectTemplate,
		HTMLTemplate:    in.HTMLTemplate,
		TextTemplate:    in.TextTemplate,
		IsActive:        true,
	}
	if err := m.store.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("не удалось создать шаблон: %w", err)
	}
	return t, nil
}

// submitBulk ставит массовую отправку в очередь. Без очереди отправка выполняется сразу
func (m *Manager) submitBulk(id uint) string {
	fn := func(ctx context.Context) error {
		_, err := m.SendBulk(ctx, id)
		return err
	}
	if m.tasks == nil {
		if err := fn(context.Background()); err != nil {
			logger.Errorf("Ошибка отправки рассылки %d: %v", id, err)
		}
		return ""
	}
	taskID := m.tasks.Submit(fmt.Sprintf("send_newsletter:%d", id), fn)
	m.inflightMu.Lock()
	m.inflight[id] = taskID
	m.inflightMu.Unlock()
	return taskID
}
