package emotion

// Emotion is one entry of the display profile.
type Emotion struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

const (
	Neutral   = "neutral"
	Happy     = "happy"
	Sad       = "sad"
	Angry     = "angry"
	Fearful   = "fearful"
	Disgusted = "disgusted"
	Surprised = "surprised"

	// IdleIcon is shown as the dominant emotion while nothing has been rendered.
	IdleIcon = "👁️"
)

var profile = [...]Emotion{
	{Name: Neutral, Color: "#636e72", Icon: "😐"},
	{Name: Happy, Color: "#fdcb6e", Icon: "😊"},
	{Name: Sad, Color: "#0984e3", Icon: "😢"},
	{Name: Angry, Color: "#d63031", Icon: "😠"},
	{Name: Fearful, Color: "#6c5ce7", Icon: "😨"},
	{Name: Disgusted, Color: "#00b894", Icon: "🤢"},
	{Name: Surprised, Color: "#e84393", Icon: "😲"},
}

// Profile returns the emotions in display order. The returned slice is a copy.
func Profile() []Emotion {
	out := make([]Emotion, len(profile))
	copy(out, profile[:])
	return out
}

func Lookup(name string) (Emotion, bool) {
	for _, e := range profile {
		if e.Name == name {
			return e, true
		}
	}
	return Emotion{}, false
}
