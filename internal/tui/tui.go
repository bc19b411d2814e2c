package tui

import (
	"context"
	"fmt"
	"sort"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"

	"github.com/Likheet/hermes-monitoring-sub001/internal/api"
	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
	"github.com/Likheet/hermes-monitoring-sub001/internal/offline"
	"github.com/Likheet/hermes-monitoring-sub001/internal/timer"
)

const (
	viewHeader = "header"
	viewTasks  = "tasks"
	viewDetail = "detail"
	viewFooter = "footer"
	viewSwap   = "swap"
)

// taskRow is one line of the task list: the lifecycle core plus the
// fields the list renders.
type taskRow struct {
	ref    model.TaskRef
	title  string
	detail string
	core   model.TaskCore
}

type swapPrompt struct {
	from     model.TaskRef
	to       model.TaskRef
	fromName string
}

type UI struct {
	client    *api.Client
	queue     *offline.Queue
	snapshots *offline.SQLiteStorage
	gui       *gocui.Gui

	workerID string
	now      func() time.Time

	rows     []taskRow
	selected int
	online   bool
	pending  int
	status   string
	swap     *swapPrompt
}

func New(client *api.Client, queue *offline.Queue, snapshots *offline.SQLiteStorage, workerID string) *UI {
	return &UI{
		client:    client,
		queue:     queue,
		snapshots: snapshots,
		workerID:  workerID,
		now:       time.Now,
	}
}

// SetQueue wires the offline queue after construction; the queue's
// conflict callback needs the UI, so the two are built in two steps.
func (u *UI) SetQueue(queue *offline.Queue) {
	u.queue = queue
}

func (u *UI) Run(ctx context.Context) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()
	u.gui = gui

	gui.SetManagerFunc(u.layout)
	if err := u.bindKeys(gui); err != nil {
		return err
	}

	u.online = u.client.Ping(ctx)
	if err := u.reloadTasks(ctx); err != nil {
		u.status = err.Error()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go u.watchConnectivity(ctx)
	go u.tick(ctx)

	if err := gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	if err := gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, u.quit); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'q', gocui.ModNone, u.quit); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'r', gocui.ModNone, u.reload); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewTasks, gocui.KeyArrowDown, gocui.ModNone, u.moveDown); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewTasks, 'j', gocui.ModNone, u.moveDown); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewTasks, gocui.KeyArrowUp, gocui.ModNone, u.moveUp); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewTasks, 'k', gocui.ModNone, u.moveUp); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewTasks, 's', gocui.ModNone, u.startSelected); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewTasks, 'p', gocui.ModNone, u.pauseSelected); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewTasks, 'o', gocui.ModNone, u.resumeSelected); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewTasks, 'c', gocui.ModNone, u.completeSelected); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewSwap, 'y', gocui.ModNone, u.confirmSwap); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewSwap, gocui.KeyEnter, gocui.ModNone, u.confirmSwap); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewSwap, 'n', gocui.ModNone, u.cancelSwap); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewSwap, gocui.KeyEsc, gocui.ModNone, u.cancelSwap); err != nil {
		return err
	}
	return nil
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	u.renderHeader(headerView)

	footerY0 := maxY - 3
	if footerY0 < 1 {
		footerY0 = 1
	}
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, maxY-1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	u.renderFooter(footerView)

	bodyBottom := footerY0 - 1
	if bodyBottom < 2 {
		return nil
	}
	listX1 := maxX * 2 / 3

	tasksView, err := gui.SetView(viewTasks, 0, 1, listX1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		tasksView.Title = "My Tasks"
	}
	u.renderTasks(tasksView)

	detailView, err := gui.SetView(viewDetail, listX1+1, 1, maxX-1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		detailView.Title = "Timer"
	}
	u.renderDetail(detailView)

	if u.swap != nil {
		if err := u.layoutSwapPrompt(gui, maxX, maxY); err != nil {
			return err
		}
		if _, err := gui.SetCurrentView(viewSwap); err != nil {
			return err
		}
		return nil
	}
	if view, _ := gui.View(viewSwap); view != nil {
		if err := gui.DeleteView(viewSwap); err != nil {
			return err
		}
	}
	if _, err := gui.SetCurrentView(viewTasks); err != nil {
		return err
	}
	return nil
}

func (u *UI) layoutSwapPrompt(gui *gocui.Gui, maxX, maxY int) error {
	width := 52
	if width > maxX-2 {
		width = maxX - 2
	}
	x0 := (maxX - width) / 2
	y0 := maxY/2 - 2
	view, err := gui.SetView(viewSwap, x0, y0, x0+width, y0+4, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Swap?"
	}
	view.Clear()
	fmt.Fprintf(view, "%q is already in progress.\n", u.swap.fromName)
	fmt.Fprintln(view, "Pause it and switch to the selected task?")
	fmt.Fprintln(view, "")
	fmt.Fprintln(view, "y switch | n keep current")
	return nil
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	conn := "ONLINE"
	if !u.online {
		conn = "OFFLINE"
	}
	queued := ""
	if u.pending > 0 {
		queued = fmt.Sprintf(" | %d queued", u.pending)
	}
	fmt.Fprintf(view, "Worker: %s | %s%s", u.workerID, conn, queued)
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	fmt.Fprintln(view, "s start | p pause | o resume | c complete | r reload | q quit")
	if u.status != "" {
		fmt.Fprint(view, u.status)
	}
}

func (u *UI) renderTasks(view *gocui.View) {
	view.Clear()
	for i, row := range u.rows {
		prefix := " "
		if i == u.selected {
			prefix = ">"
		}
		fmt.Fprintf(view, "%s [%s] %s%s\n", prefix, statusBadge(row.core.Status), row.title, row.detail)
	}
	if len(u.rows) > 0 {
		view.SetCursor(0, min(u.selected, len(u.rows)-1))
	}
}

func (u *UI) renderDetail(view *gocui.View) {
	view.Clear()
	row := u.selectedRow()
	if row == nil {
		fmt.Fprintln(view, "no task selected")
		return
	}
	fmt.Fprintf(view, "%s\n\n", row.title)
	fmt.Fprintf(view, "Status:   %s\n", row.core.Status)
	fmt.Fprintf(view, "Expected: %dm\n", row.core.ExpectedMinutes)
	switch {
	case row.core.ActualMinutes != nil:
		fmt.Fprintf(view, "Worked:   %dm (final)\n", *row.core.ActualMinutes)
	case row.core.StartedAt != nil:
		elapsed := timer.ActiveElapsed(&row.core, u.now())
		fmt.Fprintf(view, "Worked:   %s\n", formatElapsed(elapsed))
	default:
		fmt.Fprintln(view, "Worked:   not started")
	}
	for _, pause := range row.core.Pauses {
		if pause.ResumedAt == nil {
			fmt.Fprintf(view, "Paused:   %s\n", pause.Reason)
		}
	}
}

func statusBadge(status model.Status) string {
	switch status {
	case model.StatusInProgress:
		return "▶"
	case model.StatusPaused:
		return "‖"
	case model.StatusCompleted:
		return "✓"
	case model.StatusVerified:
		return "✔"
	case model.StatusRejected:
		return "✗"
	default:
		return " "
	}
}

func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

func (u *UI) selectedRow() *taskRow {
	if u.selected < 0 || u.selected >= len(u.rows) {
		return nil
	}
	return &u.rows[u.selected]
}

func (u *UI) moveDown(_ *gocui.Gui, _ *gocui.View) error {
	if u.selected < len(u.rows)-1 {
		u.selected++
	}
	return nil
}

func (u *UI) moveUp(_ *gocui.Gui, _ *gocui.View) error {
	if u.selected > 0 {
		u.selected--
	}
	return nil
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func (u *UI) reload(_ *gocui.Gui, _ *gocui.View) error {
	if err := u.reloadTasks(context.Background()); err != nil {
		u.status = err.Error()
	}
	return nil
}

// reloadTasks refreshes the task list from the server when reachable.
// Offline, the cached rows keep serving the display and the local timer.
func (u *UI) reloadTasks(ctx context.Context) error {
	u.refreshPending(ctx)
	if !u.online {
		return nil
	}

	tasks, err := u.client.ListTasks(ctx, u.workerID)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	maintenance, err := u.client.ListMaintenanceTasks(ctx, u.workerID)
	if err != nil {
		return fmt.Errorf("load maintenance tasks: %w", err)
	}

	rows := make([]taskRow, 0, len(tasks)+len(maintenance))
	for _, task := range tasks {
		rows = append(rows, taskRow{ref: task.Ref(), title: task.Title, core: task.TaskCore})
	}
	for _, task := range maintenance {
		detail := ""
		if task.Location != "" {
			detail = " @ " + task.Location
		}
		rows = append(rows, taskRow{ref: task.Ref(), title: task.Title, detail: detail, core: task.TaskCore})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return statusRank(rows[i].core.Status) < statusRank(rows[j].core.Status)
	})
	u.rows = rows
	if u.selected >= len(rows) {
		u.selected = max(0, len(rows)-1)
	}
	return nil
}

func statusRank(status model.Status) int {
	switch status {
	case model.StatusInProgress:
		return 0
	case model.StatusPaused:
		return 1
	case model.StatusPending, model.StatusRejected:
		return 2
	case model.StatusCompleted:
		return 3
	default:
		return 4
	}
}

func (u *UI) refreshPending(ctx context.Context) {
	if u.queue == nil {
		return
	}
	if n, err := u.queue.Pending(ctx); err == nil {
		u.pending = n
	}
}

// tick redraws once a second so the elapsed display advances without
// any server traffic.
func (u *UI) tick(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// u.rows belongs to the gocui main loop; snapshot from inside
			// Update so the read is serialized with keybinding handlers.
			u.gui.Update(func(*gocui.Gui) error {
				u.snapshotRunning(ctx)
				return nil
			})
		}
	}
}

// snapshotRunning persists the running task's elapsed reading so a crash
// or restart while offline does not lose the display state.
func (u *UI) snapshotRunning(ctx context.Context) {
	if u.snapshots == nil {
		return
	}
	for i := range u.rows {
		row := &u.rows[i]
		if row.core.Status != model.StatusInProgress {
			continue
		}
		_ = u.snapshots.SaveSnapshot(ctx, row.core.ID, timer.ActiveElapsedSeconds(&row.core, u.now()))
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
