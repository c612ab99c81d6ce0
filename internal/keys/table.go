package keys

// Evdev codes referenced by name elsewhere in the tree.
// Values from include/uapi/linux/input-event-codes.h.
const (
	KeyEsc        = 1
	KeyBackspace  = 14
	KeyTab        = 15
	KeyEnter      = 28
	KeyLeftCtrl   = 29
	KeyLeftShift  = 42
	KeyRightShift = 54
	KeyLeftAlt    = 56
	KeySpace      = 57
	KeyRightCtrl  = 97
	KeyRightAlt   = 100
	KeyLeftMeta   = 125
	KeyRightMeta  = 126
	KeyBrightnessUp = 225
	KeyVolumeUp   = 115
	KeyZoom       = 372
	KeyFn         = 464

	IsoLevel3Shift = 249

	BtnLeft    = 272
	BtnRight   = 273
	BtnMiddle  = 274
	BtnSide    = 275
	BtnExtra   = 276
	BtnForward = 277
	BtnBack    = 278
)

// Table maps key codes to their config names. Unnamed codes fall back to
// the key_NNN spelling.
var Table = func() [EntryCount]Entry {
	var r [EntryCount]Entry
	r[0] = Entry{"autokey", "auto", ""}
	r[1] = Entry{"esc", "escape", ""}
	r[2] = Entry{"1", "", "!"}
	r[3] = Entry{"2", "", "@"}
	r[4] = Entry{"3", "", "#"}
	r[5] = Entry{"4", "", "$"}
	r[6] = Entry{"5", "", "%"}
	r[7] = Entry{"6", "", "^"}
	r[8] = Entry{"7", "", "&"}
	r[9] = Entry{"8", "", "*"}
	r[10] = Entry{"9", "", "("}
	r[11] = Entry{"0", "", ")"}
	r[12] = Entry{"-", "minus", "_"}
	r[13] = Entry{"=", "equal", "+"}
	r[14] = Entry{"backspace", "\b", ""}
	r[15] = Entry{"tab", "\t", ""}
	r[16] = Entry{"q", "", "Q"}
	r[17] = Entry{"w", "", "W"}
	r[18] = Entry{"e", "", "E"}
	r[19] = Entry{"r", "", "R"}
	r[20] = Entry{"t", "", "T"}
	r[21] = Entry{"y", "", "Y"}
	r[22] = Entry{"u", "", "U"}
	r[23] = Entry{"i", "", "I"}
	r[24] = Entry{"o", "", "O"}
	r[25] = Entry{"p", "", "P"}
	r[26] = Entry{"[", "leftbrace", "{"}
	r[27] = Entry{"]", "rightbrace", "}"}
	r[28] = Entry{"enter", "\n", ""}
	r[29] = Entry{"leftcontrol", "leftctrl", ""}
	r[30] = Entry{"a", "", "A"}
	r[31] = Entry{"s", "", "S"}
	r[32] = Entry{"d", "", "D"}
	r[33] = Entry{"f", "", "F"}
	r[34] = Entry{"g", "", "G"}
	r[35] = Entry{"h", "", "H"}
	r[36] = Entry{"j", "", "J"}
	r[37] = Entry{"k", "", "K"}
	r[38] = Entry{"l", "", "L"}
	r[39] = Entry{";", "semicolon", ":"}
	r[40] = Entry{"'", "apostrophe", "\""}
	r[41] = Entry{"`", "grave", "~"}
	r[42] = Entry{"leftshift", "", ""}
	r[43] = Entry{"\\", "backslash", "|"}
	r[44] = Entry{"z", "", "Z"}
	r[45] = Entry{"x", "", "X"}
	r[46] = Entry{"c", "", "C"}
	r[47] = Entry{"v", "", "V"}
	r[48] = Entry{"b", "", "B"}
	r[49] = Entry{"n", "", "N"}
	r[50] = Entry{"m", "", "M"}
	r[51] = Entry{",", "comma", "<"}
	r[52] = Entry{".", "dot", ">"}
	r[53] = Entry{"/", "slash", "?"}
	r[54] = Entry{"rightshift", "", ""}
	r[55] = Entry{"kpasterisk", "", ""}
	r[56] = Entry{"leftalt", "", ""}
	r[57] = Entry{"space", " ", ""}
	r[58] = Entry{"capslock", "", ""}
	r[59] = Entry{"f1", "", ""}
	r[60] = Entry{"f2", "", ""}
	r[61] = Entry{"f3", "", ""}
	r[62] = Entry{"f4", "", ""}
	r[63] = Entry{"f5", "", ""}
	r[64] = Entry{"f6", "", ""}
	r[65] = Entry{"f7", "", ""}
	r[66] = Entry{"f8", "", ""}
	r[67] = Entry{"f9", "", ""}
	r[68] = Entry{"f10", "", ""}
	r[69] = Entry{"numlock", "", ""}
	r[70] = Entry{"scrolllock", "", ""}
	r[71] = Entry{"kp7", "", ""}
	r[72] = Entry{"kp8", "", ""}
	r[73] = Entry{"kp9", "", ""}
	r[74] = Entry{"kpminus", "", ""}
	r[75] = Entry{"kp4", "", ""}
	r[76] = Entry{"kp5", "", ""}
	r[77] = Entry{"kp6", "", ""}
	r[78] = Entry{"kpplus", "", ""}
	r[79] = Entry{"kp1", "", ""}
	r[80] = Entry{"kp2", "", ""}
	r[81] = Entry{"kp3", "", ""}
	r[82] = Entry{"kp0", "", ""}
	r[83] = Entry{"kpdot", "", ""}
	r[85] = Entry{"zenkakuhankaku", "", ""}
	r[86] = Entry{"102nd", "", ""}
	r[87] = Entry{"f11", "", ""}
	r[88] = Entry{"f12", "", ""}
	r[89] = Entry{"ro", "", ""}
	r[90] = Entry{"katakana", "", ""}
	r[91] = Entry{"hiragana", "", ""}
	r[92] = Entry{"henkan", "", ""}
	r[93] = Entry{"katakanahiragana", "", ""}
	r[94] = Entry{"muhenkan", "", ""}
	r[95] = Entry{"kpjpcomma", "", ""}
	r[96] = Entry{"kpenter", "", ""}
	r[97] = Entry{"rightcontrol", "rightctrl", ""}
	r[98] = Entry{"kpslash", "", ""}
	r[99] = Entry{"sysrq", "", ""}
	r[100] = Entry{"rightalt", "", ""}
	r[101] = Entry{"linefeed", "", ""}
	r[102] = Entry{"home", "", ""}
	r[103] = Entry{"up", "", ""}
	r[104] = Entry{"pageup", "", ""}
	r[105] = Entry{"left", "", ""}
	r[106] = Entry{"right", "", ""}
	r[107] = Entry{"end", "", ""}
	r[108] = Entry{"down", "", ""}
	r[109] = Entry{"pagedown", "", ""}
	r[110] = Entry{"insert", "", ""}
	r[111] = Entry{"delete", "", ""}
	r[112] = Entry{"macro", "", ""}
	r[113] = Entry{"mute", "", ""}
	r[114] = Entry{"volumedown", "", ""}
	r[115] = Entry{"volumeup", "", ""}
	r[116] = Entry{"power", "", ""}
	r[117] = Entry{"kpequal", "", ""}
	r[118] = Entry{"kpplusminus", "", ""}
	r[119] = Entry{"pause", "", ""}
	r[120] = Entry{"scale", "", ""}
	r[121] = Entry{"kpcomma", "", ""}
	r[122] = Entry{"hangeul", "", ""}
	r[123] = Entry{"hanja", "", ""}
	r[124] = Entry{"yen", "", ""}
	r[125] = Entry{"leftmeta", "leftsuper", ""}
	r[126] = Entry{"rightmeta", "rightsuper", ""}
	r[127] = Entry{"compose", "", ""}
	r[128] = Entry{"stop", "", ""}
	r[129] = Entry{"again", "", ""}
	r[130] = Entry{"props", "", ""}
	r[131] = Entry{"undo", "", ""}
	r[132] = Entry{"front", "", ""}
	r[133] = Entry{"copy", "", ""}
	r[134] = Entry{"open", "", ""}
	r[135] = Entry{"paste", "", ""}
	r[136] = Entry{"find", "", ""}
	r[137] = Entry{"cut", "", ""}
	r[138] = Entry{"help", "", ""}
	r[139] = Entry{"menu", "", ""}
	r[140] = Entry{"calc", "", ""}
	r[141] = Entry{"setup", "", ""}
	r[142] = Entry{"sleep", "", ""}
	r[143] = Entry{"wakeup", "", ""}
	r[144] = Entry{"file", "", ""}
	r[145] = Entry{"sendfile", "", ""}
	r[146] = Entry{"deletefile", "", ""}
	r[147] = Entry{"xfer", "", ""}
	r[148] = Entry{"prog1", "", ""}
	r[149] = Entry{"prog2", "", ""}
	r[150] = Entry{"www", "", ""}
	r[151] = Entry{"msdos", "", ""}
	r[152] = Entry{"coffee", "", ""}
	r[153] = Entry{"display", "", ""}
	r[154] = Entry{"cyclewindows", "", ""}
	r[155] = Entry{"mail", "", ""}
	r[156] = Entry{"bookmarks", "", ""}
	r[157] = Entry{"computer", "", ""}
	r[158] = Entry{"back", "", ""}
	r[159] = Entry{"forward", "", ""}
	r[160] = Entry{"closecd", "", ""}
	r[161] = Entry{"ejectcd", "", ""}
	r[162] = Entry{"ejectclosecd", "", ""}
	r[163] = Entry{"nextsong", "", ""}
	r[164] = Entry{"playpause", "", ""}
	r[165] = Entry{"previoussong", "", ""}
	r[166] = Entry{"stopcd", "", ""}
	r[167] = Entry{"record", "", ""}
	r[168] = Entry{"rewind", "", ""}
	r[169] = Entry{"phone", "", ""}
	r[170] = Entry{"iso", "", ""}
	r[171] = Entry{"config", "", ""}
	r[172] = Entry{"homepage", "", ""}
	r[173] = Entry{"refresh", "", ""}
	r[174] = Entry{"exit", "", ""}
	r[175] = Entry{"move", "", ""}
	r[176] = Entry{"edit", "", ""}
	r[177] = Entry{"scrollup", "", ""}
	r[178] = Entry{"scrolldown", "", ""}
	r[179] = Entry{"kpleftparen", "", ""}
	r[180] = Entry{"kprightparen", "", ""}
	r[181] = Entry{"new", "", ""}
	r[182] = Entry{"redo", "", ""}
	r[183] = Entry{"f13", "", ""}
	r[184] = Entry{"f14", "", ""}
	r[185] = Entry{"f15", "", ""}
	r[186] = Entry{"f16", "", ""}
	r[187] = Entry{"f17", "", ""}
	r[188] = Entry{"f18", "", ""}
	r[189] = Entry{"f19", "", ""}
	r[190] = Entry{"f20", "", ""}
	r[191] = Entry{"f21", "", ""}
	r[192] = Entry{"f22", "", ""}
	r[193] = Entry{"f23", "", ""}
	r[194] = Entry{"f24", "", ""}
	r[200] = Entry{"playcd", "", ""}
	r[201] = Entry{"pausecd", "", ""}
	r[202] = Entry{"prog3", "", ""}
	r[203] = Entry{"prog4", "", ""}
	r[204] = Entry{"dashboard", "", ""}
	r[205] = Entry{"suspend", "", ""}
	r[206] = Entry{"close", "", ""}
	r[207] = Entry{"play", "", ""}
	r[208] = Entry{"fastforward", "", ""}
	r[209] = Entry{"bassboost", "", ""}
	r[210] = Entry{"print", "", ""}
	r[211] = Entry{"hp", "", ""}
	r[212] = Entry{"camera", "", ""}
	r[213] = Entry{"sound", "", ""}
	r[214] = Entry{"question", "", ""}
	r[215] = Entry{"email", "", ""}
	r[216] = Entry{"chat", "", ""}
	r[217] = Entry{"search", "", ""}
	r[218] = Entry{"connect", "", ""}
	r[219] = Entry{"finance", "", ""}
	r[220] = Entry{"sport", "", ""}
	r[221] = Entry{"shop", "", ""}
	r[223] = Entry{"cancel", "", ""}
	r[224] = Entry{"brightnessdown", "", ""}
	r[225] = Entry{"brightnessup", "", ""}
	r[226] = Entry{"media", "", ""}
	r[227] = Entry{"switchvideomode", "", ""}
	r[228] = Entry{"kbdillumtoggle", "", ""}
	r[229] = Entry{"kbdillumdown", "", ""}
	r[230] = Entry{"kbdillumup", "", ""}
	r[231] = Entry{"send", "", ""}
	r[232] = Entry{"reply", "", ""}
	r[233] = Entry{"forwardmail", "", ""}
	r[234] = Entry{"save", "", ""}
	r[235] = Entry{"documents", "", ""}
	r[236] = Entry{"battery", "", ""}
	r[237] = Entry{"bluetooth", "", ""}
	r[238] = Entry{"wlan", "", ""}
	r[239] = Entry{"uwb", "", ""}
	r[240] = Entry{"unknown", "", ""}
	r[241] = Entry{"next", "", ""}
	r[242] = Entry{"prev", "", ""}
	r[243] = Entry{"cycle", "", ""}
	r[244] = Entry{"auto", "", ""}
	r[245] = Entry{"off", "", ""}
	r[246] = Entry{"wwan", "", ""}
	r[247] = Entry{"rfkill", "", ""}
	r[248] = Entry{"micmute", "", ""}
	r[IsoLevel3Shift] = Entry{"iso-level3-shift", "level3", ""}
	r[BtnLeft] = Entry{"leftmouse", "", ""}
	r[BtnRight] = Entry{"rightmouse", "", ""}
	r[BtnMiddle] = Entry{"middlemouse", "", ""}
	r[BtnSide] = Entry{"mouse1", "", ""}
	r[BtnExtra] = Entry{"mouse2", "", ""}
	r[BtnForward] = Entry{"mouseforward", "", ""}
	r[BtnBack] = Entry{"mouseback", "", ""}
	r[KeyZoom] = Entry{"zoom", "", ""}
	r[KeyFn] = Entry{"fn", "", ""}
	r[582] = Entry{"voicecommand", "", ""}
	r[WheelUp] = Entry{"wheelup", "", ""}
	r[WheelDown] = Entry{"wheeldown", "", ""}
	r[WheelLeft] = Entry{"wheelleft", "", ""}
	r[WheelRight] = Entry{"wheelright", "", ""}
	r[FakeModAlt] = Entry{"fakealt", "", ""}
	r[FakeModSuper] = Entry{"fakemeta", "fakesuper", ""}
	r[FakeModShift] = Entry{"fakeshift", "", ""}
	r[FakeModCtrl] = Entry{"fakecontrol", "fakectrl", ""}
	r[FakeModAltGr] = Entry{"fakealtgr", "", ""}
	r[FakeModHyper] = Entry{"fakehyper", "", ""}
	r[FakeModLevel5] = Entry{"fakelevel5", "", ""}
	r[FakeModNLock] = Entry{"fakemod7", "fakenlock", ""}
	r[Noop] = Entry{"noop", "", ""}
	return r
}()
