// Package render builds every user-visible text and button set of the bot.
// Texts use Telegram HTML markup; all user-supplied values are escaped.
package render

import (
	"fmt"
	"html"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Jeazzzy/UWantIt/internal/callback"
	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
)

// Delays is the fixed delay menu, in minutes.
var Delays = []int{5, 10, 30, 60, 360, 1440}

// Renderer formats values for display.
type Renderer struct {
	Currency string
	printer  *message.Printer
}

// New returns a Renderer that suffixes prices with currency.
func New(currency string) *Renderer {
	if currency == "" {
		currency = "₽"
	}
	return &Renderer{Currency: currency, printer: message.NewPrinter(language.English)}
}

// Escape makes s safe to embed in an HTML message.
func Escape(s string) string { return html.EscapeString(s) }

// Price formats p with thousands grouping: 1500000 -> "1,500,000₽".
// Fractional prices keep two decimals.
func (r *Renderer) Price(p float64) string {
	if p == math.Trunc(p) {
		return r.printer.Sprintf("%.0f", p) + r.Currency
	}
	return r.printer.Sprintf("%.2f", p) + r.Currency
}

// DelayLabel is the button label for a delay in minutes.
func DelayLabel(minutes int) string {
	switch {
	case minutes == 1440:
		return "1 день"
	case minutes%1440 == 0:
		return fmt.Sprintf("%d дн.", minutes/1440)
	case minutes == 60:
		return "1 час"
	case minutes%60 == 0:
		return fmt.Sprintf("%d ч.", minutes/60)
	default:
		return fmt.Sprintf("%d мин", minutes)
	}
}

// DelayRows lays the delay menu out two per row, encoding each choice with
// data.
func DelayRows(data func(minutes int) string) [][]notify.Action {
	rows := make([][]notify.Action, 0, (len(Delays)+1)/2)
	for i := 0; i < len(Delays); i += 2 {
		row := []notify.Action{{Label: DelayLabel(Delays[i]), Data: data(Delays[i])}}
		if i+1 < len(Delays) {
			row = append(row, notify.Action{Label: DelayLabel(Delays[i+1]), Data: data(Delays[i+1])})
		}
		rows = append(rows, row)
	}
	return rows
}

// StatusTitle is the list heading for a status.
func StatusTitle(s domain.Status) string {
	switch s {
	case domain.StatusPending:
		return "⏳ Ждут решения"
	case domain.StatusBought:
		return "✅ Куплено"
	case domain.StatusCancelled:
		return "❌ Отменено"
	}
	return string(s)
}

func enc(d callback.Data) string { return callback.MustEncode(d) }

func homeAction() notify.Action {
	return notify.Action{Label: "🏠 Главное меню", Data: enc(callback.Data{Verb: callback.Home})}
}

// Menu is the home screen.
func (r *Renderer) Menu() (notify.Content, [][]notify.Action) {
	rows := [][]notify.Action{
		{{Label: "➕ Добавить покупку", Data: enc(callback.Data{Verb: callback.Add})}},
		{
			{Label: StatusTitle(domain.StatusPending), Data: enc(callback.Data{Verb: callback.List, Status: domain.StatusPending})},
			{Label: StatusTitle(domain.StatusBought), Data: enc(callback.Data{Verb: callback.List, Status: domain.StatusBought})},
		},
		{
			{Label: StatusTitle(domain.StatusCancelled), Data: enc(callback.Data{Verb: callback.List, Status: domain.StatusCancelled})},
			{Label: "📊 Статистика", Data: enc(callback.Data{Verb: callback.Stats})},
		},
	}
	return notify.Content{Text: "🛒 <b>Бот импульсивных покупок</b>\n\nЗапиши желание, подожди и реши на холодную голову."}, rows
}

// details is the shared body of prompts and cards.
func (r *Renderer) details(p *domain.Purchase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📦 <b>%s</b>\n", Escape(p.Name))
	fmt.Fprintf(&b, "💰 %s\n", r.Price(p.Price))
	if p.Store != "" {
		fmt.Fprintf(&b, "🏪 %s\n", Escape(p.Store))
	}
	if l := p.LinkText(); l != "" {
		fmt.Fprintf(&b, "📝 %s\n", Escape(l))
	}
	return b.String()
}

// DecisionPrompt is the reminder shown once a purchase is due. imagePath is
// empty when the photo is absent or its blob is gone.
func (r *Renderer) DecisionPrompt(p *domain.Purchase, imagePath string) notify.Content {
	text := "⏰ <b>Напоминание о покупке!</b>\n\n" + r.details(p) + "\n❓ Всё ещё хочешь купить?"
	return notify.Content{Text: text, ImagePath: imagePath}
}

// DecisionActions are the buy / cancel / wait buttons of a prompt.
func DecisionActions(id string) [][]notify.Action {
	return [][]notify.Action{
		{
			{Label: "✅ Да, куплю", Data: enc(callback.Data{Verb: callback.Buy, ID: id})},
			{Label: "❌ Нет, передумал", Data: enc(callback.Data{Verb: callback.Cancel, ID: id})},
		},
		{{Label: "⏳ Подождать ещё", Data: enc(callback.Data{Verb: callback.Wait, ID: id})}},
	}
}

// WaitActions is the delay menu opened from a prompt.
func WaitActions(id string) [][]notify.Action {
	rows := DelayRows(func(m int) string {
		return enc(callback.Data{Verb: callback.Extend, ID: id, Minutes: m})
	})
	return append(rows, []notify.Action{{Label: "🔙 Назад", Data: enc(callback.Data{Verb: callback.Prompt, ID: id})}})
}

// WaitPrompt asks for the extension delay.
func (r *Renderer) WaitPrompt(p *domain.Purchase) string {
	return r.details(p) + "\n⏳ На сколько отложить? Выбери кнопкой или напиши минуты."
}

// Decided is the prompt text after a decision, with the menu removed.
func (r *Renderer) Decided(p *domain.Purchase) string {
	var outcome string
	switch p.Status {
	case domain.StatusBought:
		outcome = "✅ <b>Отмечено как купленное</b>"
	case domain.StatusCancelled:
		outcome = "❌ <b>Покупка отменена</b>"
	default:
		outcome = fmt.Sprintf("⏳ <b>Напомню %s</b>", r.When(p))
	}
	return r.details(p) + "\n" + outcome
}

// When describes the due time of a pending purchase.
func (r *Renderer) When(p *domain.Purchase) string {
	return "в " + p.DueAt.Local().Format("02.01 15:04")
}

// Card is the detail view of one purchase.
func (r *Renderer) Card(p *domain.Purchase, imagePath string) notify.Content {
	text := r.details(p) + "\n" + StatusTitle(p.Status)
	if p.Status == domain.StatusPending {
		text += ", напомню " + r.When(p)
	}
	return notify.Content{Text: text, ImagePath: imagePath}
}

// CardActions are the buttons under a card.
func CardActions(p *domain.Purchase) [][]notify.Action {
	return [][]notify.Action{
		{
			{Label: "🗑️ Удалить", Data: enc(callback.Data{Verb: callback.Del, ID: p.ID})},
			{Label: "🔄 Переместить", Data: enc(callback.Data{Verb: callback.Move, ID: p.ID})},
		},
		{{Label: "🔙 К списку", Data: enc(callback.Data{Verb: callback.List, Status: p.Status})}},
		{homeAction()},
	}
}

// DeleteConfirm asks before removing a purchase for good.
func (r *Renderer) DeleteConfirm(p *domain.Purchase) (string, [][]notify.Action) {
	text := fmt.Sprintf("🗑️ <b>Подтверди удаление</b>\n\n<b>%s</b>\n\nУверен, что хочешь <b>навсегда</b> удалить эту покупку?", Escape(p.Name))
	return text, [][]notify.Action{
		{{Label: "🗑️ Да, удалить", Data: enc(callback.Data{Verb: callback.DelOK, ID: p.ID})}},
		{{Label: "❌ Отмена", Data: enc(callback.Data{Verb: callback.Open, ID: p.ID})}},
	}
}

// Deleted confirms a removal.
func Deleted(p *domain.Purchase) string {
	return fmt.Sprintf("✅ «%s» удалено навсегда.", Escape(p.Name))
}

// MoveMenu offers every status except the current one.
func (r *Renderer) MoveMenu(p *domain.Purchase) (string, [][]notify.Action) {
	rows := make([][]notify.Action, 0, len(domain.Statuses)+1)
	for _, st := range domain.Statuses {
		if st == p.Status {
			continue
		}
		rows = append(rows, []notify.Action{{
			Label: StatusTitle(st),
			Data:  enc(callback.Data{Verb: callback.MoveTo, Status: st, ID: p.ID}),
		}})
	}
	rows = append(rows, []notify.Action{{Label: "🔙 Назад", Data: enc(callback.Data{Verb: callback.Open, ID: p.ID})}})
	return fmt.Sprintf("📂 Куда переместить <b>%s</b>?", Escape(p.Name)), rows
}

// RearmMenu asks for a new delay when moving a purchase back to pending.
func (r *Renderer) RearmMenu(p *domain.Purchase) (string, [][]notify.Action) {
	rows := DelayRows(func(m int) string {
		return enc(callback.Data{Verb: callback.Rearm, ID: p.ID, Minutes: m})
	})
	rows = append(rows, []notify.Action{{Label: "🔙 Назад", Data: enc(callback.Data{Verb: callback.Move, ID: p.ID})}})
	return fmt.Sprintf("⏳ Когда снова напомнить о <b>%s</b>? Выбери кнопкой или напиши минуты.", Escape(p.Name)), rows
}

// Moved confirms a status change.
func Moved(p *domain.Purchase) string {
	return fmt.Sprintf("✅ «%s» перемещено: %s", Escape(p.Name), StatusTitle(p.Status))
}

// List shows the owner's purchases in one status, each openable.
func (r *Renderer) List(status domain.Status, items []domain.Purchase) (string, [][]notify.Action) {
	if len(items) == 0 {
		return fmt.Sprintf("%s: <i>пусто</i>", StatusTitle(status)), [][]notify.Action{{homeAction()}}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n\n", StatusTitle(status))
	rows := make([][]notify.Action, 0, len(items)+1)
	for i := range items {
		p := &items[i]
		if p.Store != "" {
			fmt.Fprintf(&b, "• %s — %s (%s)\n", Escape(p.Name), r.Price(p.Price), Escape(p.Store))
		} else {
			fmt.Fprintf(&b, "• %s — %s\n", Escape(p.Name), r.Price(p.Price))
		}
		rows = append(rows, []notify.Action{{
			Label: "Открыть " + clip(p.Name, 40),
			Data:  enc(callback.Data{Verb: callback.Open, ID: p.ID}),
		}})
	}
	rows = append(rows, []notify.Action{homeAction()})
	return b.String(), rows
}

// Stats shows count and price sum per status.
func (r *Renderer) Stats(aggs []domain.Aggregate) (string, [][]notify.Action) {
	var b strings.Builder
	b.WriteString("📊 <b>Статистика</b>\n\n")
	for _, a := range aggs {
		fmt.Fprintf(&b, "%s: %d шт. на %s\n", StatusTitle(a.Status), a.Count, r.Price(a.Sum))
	}
	return b.String(), [][]notify.Action{{homeAction()}}
}

// Home is a single home-menu button row.
func Home() [][]notify.Action { return [][]notify.Action{{homeAction()}} }

const (
	NotFound       = "❌ Покупка не найдена."
	Failed         = "⚠️ Не получилось выполнить операцию. Попробуй ещё раз."
	TooFast        = "⏱ Слишком много запросов, подожди немного."
	BadDelay       = "❌ <b>Неверное время!</b>\n\nВведи число минут (например: 5, 30, 1440) или выбери кнопкой."
	AlreadyDecided = "ℹ️ Решение по этой покупке уже принято."
	Stale          = "ℹ️ Это меню устарело."
)

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
