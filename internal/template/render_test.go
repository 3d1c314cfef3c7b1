package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	t.Run("替换已知占位符", func(t *testing.T) {
		out := Render("Hello {name}, welcome to {city}", map[string]string{
			"name": "Ada",
			"city": "London",
		})
		assert.Equal(t, "Hello Ada, welcome to London", out)
	})

	t.Run("未知占位符原样保留", func(t *testing.T) {
		out := Render("Your fruit: {favourite_fruit}", map[string]string{})
		assert.Equal(t, "Your fruit: {favourite_fruit}", out)
	})

	t.Run("替换值不触发二次展开", func(t *testing.T) {
		out := Render("{a}", map[string]string{
			"a": "{b}",
			"b": "nested",
		})
		assert.Equal(t, "{b}", out)
	})

	t.Run("未知占位符下渲染幂等", func(t *testing.T) {
		vars := map[string]string{"known": "value"}
		tpl := "{known} and {unknown}"
		once := Render(tpl, vars)
		assert.Equal(t, once, Render(once, map[string]string{"unknown": "should not leak"}))
	})

	t.Run("支持 Unicode 键", func(t *testing.T) {
		out := Render("Привет {имя}", map[string]string{"имя": "Ада"})
		assert.Equal(t, "Привет Ада", out)
	})

	t.Run("空模板", func(t *testing.T) {
		assert.Equal(t, "", Render("", map[string]string{"a": "b"}))
	})
}

func TestRenderBody(t *testing.T) {
	t.Run("两段式渲染", func(t *testing.T) {
		out := RenderBody(
			`<p>Hi {name}</p>{message}<p><a href="{unsubscribe_url}">u</a></p>`,
			"Dear {title}",
			map[string]string{"title": "Dr"},
			"Ada",
			"https://example.com/unsub",
		)
		assert.Contains(t, out, "<p>Hi Ada</p>")
		assert.Contains(t, out, "Dear Dr")
		assert.Contains(t, out, `<a href="https://example.com/unsub">u</a>`)
	})

	t.Run("外层模板缺少 message 时追加段落", func(t *testing.T) {
		out := RenderBody("<p>Hello {name}</p>", "Body", nil, "Bob", "u")
		assert.Equal(t, "<p>Hello Bob</p><p>Body</p>", out)
	})

	t.Run("外层模板为空时直接输出正文", func(t *testing.T) {
		out := RenderBody("", "Dear {title}", map[string]string{"title": "Dr"}, "Ada", "u")
		assert.Equal(t, "Dear Dr", out)
	})

	t.Run("收件人变量无法注入租户级占位符", func(t *testing.T) {
		// 第一段的输出不再被扫描，{unsubscribe_url} 原样出现在正文里
		out := RenderBody("{message}", "{payload}", map[string]string{
			"payload": "{unsubscribe_url}",
		}, "Ada", "https://real")
		assert.Equal(t, "{unsubscribe_url}", out)
	})
}

func TestTrackingPixel(t *testing.T) {
	pixel := TrackingPixel("example.com", 42)
	assert.Equal(t, `<img src="https://mail.example.com/track/42" width="1" height="1" border="0"/>`, pixel)
}
