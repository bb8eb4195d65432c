// Package recordertest provides in-memory Browser, Page and Agent fakes.
package recordertest

import (
	"context"
	"fmt"
	"sync"

	"replaycap/internal/recorder"
)

// Browser records every call made through its pages and agent.
type Browser struct {
	mu        sync.Mutex
	calls     []string
	pages     int
	tabs      int
	activeTab int

	// Hooks; a nil hook succeeds.
	NewPageErr  error
	VisibleErr  error
	StartErr    error
	StopErr     error
	SaveErr     error
	SavePath    func(tab int) string
	OnNavigate  func(url string)
	closedPages int
}

func NewBrowser() *Browser { return &Browser{} }

func (b *Browser) record(format string, args ...any) {
	b.mu.Lock()
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
	b.mu.Unlock()
}

// Calls returns the ordered call log.
func (b *Browser) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *Browser) ClosedPages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closedPages
}

func (b *Browser) NewPage(ctx context.Context) (recorder.Page, error) {
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	b.mu.Lock()
	b.pages++
	b.tabs++
	p := &Page{b: b, tab: b.tabs}
	b.mu.Unlock()
	b.record("newPage")
	return p, nil
}

func (b *Browser) Agent(ctx context.Context) (recorder.Agent, error) {
	return &Agent{b: b}, nil
}

type Page struct {
	b   *Browser
	tab int
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.b.record("navigate %s", url)
	if p.b.OnNavigate != nil {
		p.b.OnNavigate(url)
	}
	return nil
}

func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	p.b.record("waitVisible")
	if p.b.VisibleErr != nil {
		<-ctx.Done()
		return p.b.VisibleErr
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.b.record("click")
	return nil
}

func (p *Page) BringToFront(ctx context.Context) error {
	p.b.mu.Lock()
	p.b.calls = append(p.b.calls, "bringToFront")
	p.b.activeTab = p.tab
	p.b.mu.Unlock()
	return nil
}

func (p *Page) Close() error {
	p.b.mu.Lock()
	p.b.closedPages++
	p.b.mu.Unlock()
	p.b.record("close")
	return nil
}

type Agent struct{ b *Browser }

func (a *Agent) ActiveTab(ctx context.Context) (int, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	a.b.calls = append(a.b.calls, "getActiveTab")
	return a.b.activeTab, nil
}

func (a *Agent) Start(ctx context.Context) error {
	a.b.record("start")
	return a.b.StartErr
}

func (a *Agent) Stop(ctx context.Context, tab int) error {
	a.b.record("stop %d", tab)
	return a.b.StopErr
}

func (a *Agent) Pause(ctx context.Context, tab int) error {
	a.b.record("pause %d", tab)
	return nil
}

func (a *Agent) Resume(ctx context.Context, tab int) error {
	a.b.record("resume %d", tab)
	return nil
}

func (a *Agent) Save(ctx context.Context, tab int) (string, error) {
	a.b.record("save %d", tab)
	if a.b.SaveErr != nil {
		return "", a.b.SaveErr
	}
	if a.b.SavePath != nil {
		return a.b.SavePath(tab), nil
	}
	return fmt.Sprintf("/downloads/tab-%d.webm", tab), nil
}
