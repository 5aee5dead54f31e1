package domain

// Attachment 表示邮件附件的元数据，内容保存在 Source 指向的文件中。
type Attachment struct {
	Filename           string            `json:"fileName"`          // 原始文件名，可能为空
	GeneratedFileName  string            `json:"generatedFileName"` // 路径安全且在邮件内唯一
	ContentType        string            `json:"contentType"`
	ContentDisposition string            `json:"contentDisposition"`
	Checksum           string            `json:"checksum"` // 解码后内容的 md5
	Size               int64             `json:"length"`   // 解码后内容的字节数
	Headers            map[string]string `json:"headers,omitempty"`
	ContentID          string            `json:"contentId,omitempty"`
	Related            bool              `json:"related"` // 带 Content-ID 的内联部分
	Source             string            `json:"-"`       // 附件文件路径
}

// Clone 返回附件的深拷贝。
func (a *Attachment) Clone() *Attachment {
	if a == nil {
		return nil
	}
	out := *a
	if a.Headers != nil {
		out.Headers = make(map[string]string, len(a.Headers))
		for k, v := range a.Headers {
			out.Headers[k] = v
		}
	}
	return &out
}
