package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/agent"
)

// indexAttr 标记可交互元素序号的 DOM 属性
const indexAttr = "data-on-idx"

// markElementsJS 为可见的可交互元素写入序号，返回标记数量
const markElementsJS = `(() => {
  document.querySelectorAll('[` + indexAttr + `]').forEach(e => e.removeAttribute('` + indexAttr + `'));
  const sel = 'a,button,input,select,textarea,[role=button],[role=link],[onclick]';
  let i = 0;
  document.querySelectorAll(sel).forEach(e => {
    const r = e.getBoundingClientRect();
    if (r.width === 0 && r.height === 0) return;
    e.setAttribute('` + indexAttr + `', String(i++));
  });
  return i;
})()`

var errNotConnected = errors.New("browser driver not connected")

// Driver Agent 使用的浏览器原子操作
type Driver interface {
	// Connect 连接远程浏览器并返回版本号
	Connect(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, index int) error
	Input(ctx context.Context, index int, text string) error
	Scroll(ctx context.Context, deltaY int) error
	Back(ctx context.Context) error
	// ExtractText 返回当前页面正文文本
	ExtractText(ctx context.Context) (string, error)
	// State 返回带元素序号与截图的页面状态
	State(ctx context.Context) (*agent.State, error)
	Close() error
}

// DriverConfig 远程浏览器连接配置
type DriverConfig struct {
	CDPURL          string
	Token           string
	ViewportWidth   int
	ViewportHeight  int
	Timeout         time.Duration
	MaxContentChars int
	MaxElements     int
}

// DefaultDriverConfig 返回默认配置
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		CDPURL:          "ws://localhost:13000/playwright/chromium",
		ViewportWidth:   1280,
		ViewportHeight:  1100,
		Timeout:         30 * time.Second,
		MaxContentChars: 20000,
		MaxElements:     200,
	}
}

// =============================================================================
// 🌐 chromedp 远程驱动
// =============================================================================

// ChromeDriver 通过 CDP WebSocket 控制远程 Chromium
type ChromeDriver struct {
	config      DriverConfig
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         context.Context
	logger      *zap.Logger
	mu          sync.Mutex
}

var _ Driver = (*ChromeDriver)(nil)

// NewChromeDriver 创建驱动，实际连接延迟到 Connect
func NewChromeDriver(config DriverConfig, logger *zap.Logger) *ChromeDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &ChromeDriver{
		config: config,
		logger: logger.With(zap.String("component", "chrome_driver")),
	}
}

// Connect 建立远程会话；重复调用复用已有会话
func (d *ChromeDriver) Connect(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.tab == nil {
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(),
			endpointWithToken(d.config.CDPURL, d.config.Token), chromedp.NoModifyURL)
		tab, tabCancel := chromedp.NewContext(allocCtx,
			chromedp.WithLogf(func(format string, args ...any) {
				d.logger.Debug(fmt.Sprintf(format, args...))
			}),
		)
		d.tab, d.tabCancel, d.allocCancel = tab, tabCancel, allocCancel
	}
	d.mu.Unlock()

	var product string
	err := d.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, p, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
			product = p
			return err
		}),
		chromedp.EmulateViewport(int64(d.config.ViewportWidth), int64(d.config.ViewportHeight)),
	)
	if err != nil {
		_ = d.Close()
		return "", fmt.Errorf("connect_over_cdp %s: %w: %w", RedactEndpoint(d.config.CDPURL), agent.ErrBrowserUnreachable, err)
	}

	d.logger.Info("connected to remote browser",
		zap.String("endpoint", RedactEndpoint(d.config.CDPURL)),
		zap.String("version", product))
	return product, nil
}

// Navigate 导航到 URL
func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("navigating", zap.String("url", url))
	return d.run(ctx, chromedp.Navigate(url))
}

// Click 点击指定序号的元素
func (d *ChromeDriver) Click(ctx context.Context, index int) error {
	d.logger.Debug("clicking", zap.Int("index", index))
	return d.run(ctx, chromedp.Click(indexSelector(index), chromedp.ByQuery))
}

// Input 清空并输入文本
func (d *ChromeDriver) Input(ctx context.Context, index int, text string) error {
	sel := indexSelector(index)
	return d.run(ctx,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
}

// Scroll 在视口中心派发滚轮事件
func (d *ChromeDriver) Scroll(ctx context.Context, deltaY int) error {
	x := float64(d.config.ViewportWidth) / 2
	y := float64(d.config.ViewportHeight) / 2
	return d.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseWheel, x, y).
				WithDeltaY(float64(deltaY)).Do(ctx)
		}),
	)
}

// Back 后退
func (d *ChromeDriver) Back(ctx context.Context) error {
	return d.run(ctx, chromedp.NavigateBack())
}

// ExtractText 读取 body 的可见文本
func (d *ChromeDriver) ExtractText(ctx context.Context) (string, error) {
	var text string
	if err := d.run(ctx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return truncateRunes(strings.TrimSpace(text), d.config.MaxContentChars), nil
}

// State 标记元素、读取 HTML 与截图。截图失败不影响其他字段。
func (d *ChromeDriver) State(ctx context.Context) (*agent.State, error) {
	var (
		location string
		title    string
		marked   int
		html     string
	)
	err := d.run(ctx,
		chromedp.Location(&location),
		chromedp.Title(&title),
		chromedp.Evaluate(markElementsJS, &marked),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("read page state: %w", err)
	}

	page, err := ExtractPage(html, d.config.MaxElements)
	if err != nil {
		d.logger.Warn("failed to parse page html", zap.Error(err))
	}

	state := &agent.State{
		URL:      location,
		Title:    title,
		Content:  truncateRunes(page.Text, d.config.MaxContentChars),
		Elements: page.Elements,
	}

	var shot []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&shot)); err != nil {
		d.logger.Warn("screenshot failed", zap.Error(err))
	} else {
		state.Screenshot = base64.StdEncoding.EncodeToString(shot)
	}

	d.logger.Debug("page state captured",
		zap.String("url", location),
		zap.Int("marked", marked),
		zap.Int("elements", len(state.Elements)))
	return state, nil
}

// Close 断开远程会话，不会关闭远程浏览器进程
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tab == nil {
		return nil
	}
	d.tabCancel()
	d.allocCancel()
	d.tab, d.tabCancel, d.allocCancel = nil, nil, nil
	d.logger.Info("remote browser session closed")
	return nil
}

// run 在标签页上下文中执行动作，同时受调用方 ctx 与单次超时约束
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	d.mu.Lock()
	tab := d.tab
	d.mu.Unlock()
	if tab == nil {
		return errNotConnected
	}

	runCtx, cancel := context.WithTimeout(tab, d.config.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func indexSelector(index int) string {
	return fmt.Sprintf(`[%s="%d"]`, indexAttr, index)
}

// endpointWithToken 将 token 追加为查询参数
func endpointWithToken(endpoint, token string) string {
	if token == "" {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedactEndpoint 去掉地址中的凭据与 token 参数，用于日志和错误信息
func RedactEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	u.User = nil
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
