package model

// Recipe mirrors the instruction builder in a serializable form: JSON for
// the API and Kafka, mapstructure for configured recipe groups. Pointer
// fields are optional; nil leaves the operator out. Brightness and
// Saturation are signed, negative values route through the darken and
// desaturate calls.
type Recipe struct {
	Resize      *ResizeSpec `json:"resize,omitempty" mapstructure:"resize"`
	Constrain   *BoundsSpec `json:"constrain,omitempty" mapstructure:"constrain"`
	Filters     []string    `json:"filters,omitempty" mapstructure:"filters"`
	Brightness  *int        `json:"brightness,omitempty" mapstructure:"brightness"`
	Saturation  *int        `json:"saturation,omitempty" mapstructure:"saturation"`
	Contrast    *int        `json:"contrast,omitempty" mapstructure:"contrast"`
	Opacity     *int        `json:"opacity,omitempty" mapstructure:"opacity"`
	Hue         *HueSpec    `json:"hue,omitempty" mapstructure:"hue"`
	Tint        string      `json:"tint,omitempty" mapstructure:"tint"`         // #rrggbb or #rrggbbaa
	Vignette    string      `json:"vignette,omitempty" mapstructure:"vignette"` // #rrggbb or #rrggbbaa
	JPEGQuality *int        `json:"jpeg_quality,omitempty" mapstructure:"jpeg_quality"`
}

// ResizeSpec is the recipe resize target; a zero dimension stays unset.
type ResizeSpec struct {
	Width  int    `json:"width" mapstructure:"width"`
	Height int    `json:"height" mapstructure:"height"`
	Anchor string `json:"anchor,omitempty" mapstructure:"anchor"`
}

// BoundsSpec is the recipe size constraint.
type BoundsSpec struct {
	MaxWidth  int `json:"max_width" mapstructure:"max_width"`
	MaxHeight int `json:"max_height" mapstructure:"max_height"`
}

// HueSpec sets the hue, or rotates the existing one when Rotate is true.
type HueSpec struct {
	Degrees int  `json:"degrees" mapstructure:"degrees"`
	Rotate  bool `json:"rotate" mapstructure:"rotate"`
}
