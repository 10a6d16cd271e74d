package wizard

import (
	"fmt"
	"strings"

	"github.com/Jeazzzy/UWantIt/internal/callback"
	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
	"github.com/Jeazzzy/UWantIt/internal/render"
)

var prompts = map[Step]string{
	StepName:  "Введи <b>название вещи</b>",
	StepPrice: "Введи <b>цену вещи</b>\n\n💡 Примеры: <code>1500</code>, <code>1 000 000</code>, <code>1.500.000</code>",
	StepStore: "Введи <b>название магазина</b>",
	StepLink:  "Введи <b>ссылку или описание</b>",
	StepPhoto: "Отправь <b>фото вещи</b>\n\n📷 Только изображения!",
	StepDelay: "Выбери <b>задержку до напоминания</b>\n💡 Можно выбрать кнопкой или написать минуты (например: <code>30</code>)",
}

// formText lists the staged fields followed by the prompt of the current
// step.
func formText(r *render.Renderer, s Session) string {
	var b strings.Builder
	b.WriteString("📝 <b>Добавление покупки</b>\n\n")
	header := b.Len()
	d := s.Draft
	if d.Name != "" {
		fmt.Fprintf(&b, "✅ Название: <code>%s</code>\n", render.Escape(d.Name))
	}
	if d.Price > 0 {
		fmt.Fprintf(&b, "✅ Цена: <code>%s</code>\n", r.Price(d.Price))
	}
	if d.Store != "" {
		fmt.Fprintf(&b, "✅ Магазин: <code>%s</code>\n", render.Escape(d.Store))
	}
	if d.Link != nil {
		fmt.Fprintf(&b, "✅ Описание: <code>%s</code>\n", render.Escape(clip(*d.Link, 30)))
	}
	if d.PhotoRef != nil {
		b.WriteString("✅ Фото: загружено\n")
	}
	if b.Len() > header {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Шаг %d/%d: %s", s.Step.Index(), len(order), prompts[s.Step])
	return b.String()
}

func action(label string, d callback.Data) notify.Action {
	return notify.Action{Label: label, Data: callback.MustEncode(d)}
}

// formActions are the buttons under the form for the current step.
func formActions(s Session) [][]notify.Action {
	var rows [][]notify.Action
	if s.Step == StepDelay {
		rows = render.DelayRows(func(m int) string {
			return callback.MustEncode(callback.Data{Verb: callback.Delay, Minutes: m})
		})
	}
	if s.Step.Prev() != StepIdle {
		rows = append(rows, []notify.Action{action("🔙 Назад", callback.Data{Verb: callback.Back})})
	}
	if s.Step.Skippable() {
		rows = append(rows, []notify.Action{action("⏭️ Пропустить", callback.Data{Verb: callback.Skip})})
	}
	return append(rows, []notify.Action{action("🏠 Главное меню", callback.Data{Verb: callback.Home})})
}

// doneText confirms a committed purchase.
func doneText(r *render.Renderer, p *domain.Purchase, minutes int) string {
	var b strings.Builder
	b.WriteString("✅ <b>Покупка добавлена!</b>\n\n")
	fmt.Fprintf(&b, "📦 %s\n💰 %s\n", render.Escape(p.Name), r.Price(p.Price))
	if p.Store != "" {
		fmt.Fprintf(&b, "🏪 %s\n", render.Escape(p.Store))
	}
	fmt.Fprintf(&b, "\n⏰ Напомню через %s!", render.DelayLabel(minutes))
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
