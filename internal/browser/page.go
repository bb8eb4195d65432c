package browser

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

type page struct{ p *rod.Page }

func (pg *page) Navigate(ctx context.Context, url string) error {
	p := pg.p.Context(ctx)
	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (pg *page) WaitVisible(ctx context.Context, selector string) error {
	el, err := pg.p.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.WaitVisible()
}

func (pg *page) Click(ctx context.Context, selector string) error {
	el, err := pg.p.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (pg *page) BringToFront(ctx context.Context) error {
	_, err := pg.p.Context(ctx).Activate()
	return err
}

func (pg *page) Close() error { return pg.p.Close() }

// agent calls the RecorderExtension global inside the extension's
// background page. Promise results are awaited.
type agent struct{ bg *rod.Page }

func (a *agent) eval(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	return a.bg.Context(ctx).Eval(js, args...)
}

func (a *agent) ActiveTab(ctx context.Context) (int, error) {
	res, err := a.eval(ctx, `() => RecorderExtension.getActiveTab()`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (a *agent) Start(ctx context.Context) error {
	_, err := a.eval(ctx, `() => RecorderExtension.start()`)
	return err
}

func (a *agent) Stop(ctx context.Context, tab int) error {
	_, err := a.eval(ctx, `(tab) => RecorderExtension.stop(tab)`, tab)
	return err
}

func (a *agent) Pause(ctx context.Context, tab int) error {
	_, err := a.eval(ctx, `(tab) => RecorderExtension.pause(tab)`, tab)
	return err
}

func (a *agent) Resume(ctx context.Context, tab int) error {
	_, err := a.eval(ctx, `(tab) => RecorderExtension.resume(tab)`, tab)
	return err
}

func (a *agent) Save(ctx context.Context, tab int) (string, error) {
	res, err := a.eval(ctx, `(tab) => RecorderExtension.save(tab)`, tab)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}
