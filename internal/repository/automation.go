package repository

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/timex"
)

// TaskBundleRepository serves task bundles: named task lists applied to a
// case when their trigger fires.
type TaskBundleRepository interface {
	Entity
	ForTrigger(ctx context.Context, trigger string) ([]storage.Record, error)
	Apply(ctx context.Context, bundleID, caseID string) ([]storage.Record, error)
}

// NotificationTemplateRepository serves message templates.
type NotificationTemplateRepository interface {
	Entity
	ForChannel(ctx context.Context, channel string) ([]storage.Record, error)
	Render(ctx context.Context, name string, data map[string]any) (Message, error)
}

type TaskBundles struct {
	*Repository
	tasks Entity
	now   func() time.Time
}

var _ TaskBundleRepository = (*TaskBundles)(nil)

func NewTaskBundles(r *Repository, tasks Entity) *TaskBundles {
	return &TaskBundles{Repository: r, tasks: tasks, now: time.Now}
}

func (b *TaskBundles) ForTrigger(ctx context.Context, trigger string) ([]storage.Record, error) {
	return b.FindBy(ctx, "trigger", trigger)
}

// Apply creates one task per bundle item on caseID. Items carry a title and
// optionally description, priority and due_in_days, counted from now.
func (b *TaskBundles) Apply(ctx context.Context, bundleID, caseID string) ([]storage.Record, error) {
	bundle, err := b.Get(ctx, bundleID)
	if err != nil {
		return nil, fmt.Errorf("apply bundle %s: %w", bundleID, err)
	}
	items, ok := taskItems(bundle["tasks"])
	if !ok {
		return nil, fmt.Errorf("%w: bundle %s has no task list", common.ErrValidation, bundleID)
	}

	now := b.now()
	var created []storage.Record
	for i, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			return created, fmt.Errorf("%w: bundle %s: item %d is not an object", common.ErrValidation, bundleID, i)
		}
		title, _ := item["title"].(string)
		if title == "" {
			return created, fmt.Errorf("%w: bundle %s: item %d has no title", common.ErrValidation, bundleID, i)
		}
		task := storage.Record{"case_id": caseID, "title": title, "status": "open"}
		for _, f := range []string{"description", "priority", "assignee"} {
			if v, ok := item[f]; ok {
				task[f] = v
			}
		}
		if days, ok := wholeDays(item["due_in_days"]); ok {
			task["due_date"] = timex.UTC(now.AddDate(0, 0, days))
		}
		rec, err := b.tasks.Create(ctx, task)
		if err != nil {
			return created, fmt.Errorf("apply bundle %s: %w", bundleID, err)
		}
		created = append(created, rec)
	}
	return created, nil
}

func taskItems(v any) ([]any, bool) {
	switch items := v.(type) {
	case []any:
		return items, true
	case []map[string]any:
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = it
		}
		return out, true
	}
	return nil, false
}

func wholeDays(v any) (int, bool) {
	switch d := v.(type) {
	case float64:
		return int(d), true
	case int:
		return d, true
	case int64:
		return int(d), true
	}
	return 0, false
}

// Message is a rendered notification.
type Message struct {
	Channel string
	Subject string
	Body    string
}

type NotificationTemplates struct {
	*Repository
}

var _ NotificationTemplateRepository = (*NotificationTemplates)(nil)

func NewNotificationTemplates(r *Repository) *NotificationTemplates {
	return &NotificationTemplates{Repository: r}
}

func (n *NotificationTemplates) ForChannel(ctx context.Context, channel string) ([]storage.Record, error) {
	return n.FindBy(ctx, "channel", channel)
}

// Render executes the subject and body of the template called name with
// data. Missing keys are an error.
func (n *NotificationTemplates) Render(ctx context.Context, name string, data map[string]any) (Message, error) {
	found, err := n.FindBy(ctx, "name", name)
	if err != nil {
		return Message{}, err
	}
	if len(found) == 0 {
		return Message{}, fmt.Errorf("template %q: %w", name, common.ErrNotFound)
	}
	tpl := found[0]

	subject, err := execute(name+".subject", tpl.String("subject"), data)
	if err != nil {
		return Message{}, err
	}
	body, err := execute(name+".body", tpl.String("body"), data)
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: tpl.String("channel"), Subject: subject, Body: body}, nil
}

func execute(name, text string, data map[string]any) (string, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: template %s: %v", common.ErrValidation, name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: template %s: %v", common.ErrValidation, name, err)
	}
	return buf.String(), nil
}
