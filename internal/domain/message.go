package domain

import "time"

// Envelope SMTP 会话信封，接收时确定，之后不再修改。
type Envelope struct {
	From          string   `json:"from"`
	To            []string `json:"to"`
	Host          string   `json:"host"`          // HELO/EHLO 主机名
	RemoteAddress string   `json:"remoteAddress"` // 客户端地址
}

// Address 邮件头中的地址。
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Message 表示一封被捕获的邮件。
//
// ID 在任何磁盘写入之前分配；Size 只有在原始流全部写入 Source 之后才会被设置，
// 等于写入 <id>.eml 的字节数。
type Message struct {
	ID       string   `json:"id"`
	Envelope Envelope `json:"envelope"`

	From        []Address `json:"from,omitempty"`
	To          []Address `json:"to,omitempty"`
	Cc          []Address `json:"cc,omitempty"`
	Bcc         []Address `json:"bcc,omitempty"`
	ReplyTo     []Address `json:"replyTo,omitempty"`
	Sender      []Address `json:"sender,omitempty"`
	DeliveredTo []Address `json:"deliveredTo,omitempty"`

	Subject            string              `json:"subject"`
	MessageID          string              `json:"messageId,omitempty"`
	InReplyTo          string              `json:"inReplyTo,omitempty"`
	ReturnPath         string              `json:"returnPath,omitempty"`
	Priority           string              `json:"priority,omitempty"`
	ContentType        string              `json:"contentType,omitempty"`
	ContentDisposition string              `json:"contentDisposition,omitempty"`
	DKIMSignature      string              `json:"dkimSignature,omitempty"`
	Headers            map[string][]string `json:"headers"`

	Date       time.Time `json:"date"`       // Date 头，缺失时为接收时间
	ReceivedAt time.Time `json:"receivedAt"` // 接收时间

	Text       string `json:"text,omitempty"`
	HTML       string `json:"html,omitempty"` // 已移除 <script> 的 HTML
	TextAsHTML string `json:"textAsHtml,omitempty"`

	Attachments []*Attachment `json:"attachments"` // 按 MIME 顺序排列

	Size      int64  `json:"size"`
	SizeHuman string `json:"sizeHuman"`
	Source    string `json:"source"` // <id>.eml 的路径
	Read      bool   `json:"read"`
}

// HasAttachments 报告邮件是否带有附件。
func (m *Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Attachment 按生成的文件名查找附件。
func (m *Message) Attachment(generatedFileName string) (*Attachment, bool) {
	for _, att := range m.Attachments {
		if att.GeneratedFileName == generatedFileName {
			return att, true
		}
	}
	return nil, false
}

// Clone 返回深拷贝，索引从不把自己持有的指针交给调用方。
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Envelope.To = append([]string(nil), m.Envelope.To...)
	out.From = cloneAddresses(m.From)
	out.To = cloneAddresses(m.To)
	out.Cc = cloneAddresses(m.Cc)
	out.Bcc = cloneAddresses(m.Bcc)
	out.ReplyTo = cloneAddresses(m.ReplyTo)
	out.Sender = cloneAddresses(m.Sender)
	out.DeliveredTo = cloneAddresses(m.DeliveredTo)
	if m.Headers != nil {
		out.Headers = make(map[string][]string, len(m.Headers))
		for k, v := range m.Headers {
			out.Headers[k] = append([]string(nil), v...)
		}
	}
	out.Attachments = make([]*Attachment, 0, len(m.Attachments))
	for _, att := range m.Attachments {
		out.Attachments = append(out.Attachments, att.Clone())
	}
	return &out
}

func cloneAddresses(in []Address) []Address {
	if in == nil {
		return nil
	}
	return append([]Address(nil), in...)
}
