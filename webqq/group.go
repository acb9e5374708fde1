package webqq

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/cnxysoft/DDBOT-WebQQ/requests"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	retcodeSearchNeedVerifyCode = 100110
	retcodeJoinNeedVerifyCode   = 100001
	retcodeJoinWrongVerifyCode  = 100000
)

type Buddy struct {
	Uin      string
	Nick     string
	Card     string
	QQNumber string
	Flag     int64
}

// DisplayName 有群名片时返回群名片
func (b *Buddy) DisplayName() string {
	if b.Card != "" {
		return b.Card
	}
	return b.Nick
}

// Group 群信息，gid 只在本次登录中有效，code 和 number 是稳定的
type Group struct {
	mu          sync.RWMutex
	gid         string
	code        string
	number      string
	name        string
	memo        string
	members     []*Buddy
	pendingJoin bool
}

func (g *Group) GID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gid
}

func (g *Group) Code() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.code
}

// Number 群号，UpdateGroupNumber 之前可能为空
func (g *Group) Number() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.number
}

func (g *Group) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

func (g *Group) Memo() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.memo
}

// Members 按 uin 排序的成员列表副本
func (g *Group) Members() []*Buddy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Buddy(nil), g.members...)
}

func (g *Group) FindMember(uin string) *Buddy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i := sort.Search(len(g.members), func(i int) bool {
		return !uinLess(g.members[i].Uin, uin)
	})
	if i < len(g.members) && g.members[i].Uin == uin {
		return g.members[i]
	}
	return nil
}

// PendingJoin 已申请加入，等待管理员同意
func (g *Group) PendingJoin() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pendingJoin
}

func (g *Group) String() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fmt.Sprintf("Group(%v, %v, %v)", g.name, g.number, g.gid)
}

func (g *Group) setName(name string) {
	if name == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.name = name
}

func (g *Group) setMembers(name, memo string, members []*Buddy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if name != "" {
		g.name = name
	}
	g.memo = memo
	old := make(map[string]*Buddy, len(g.members))
	for _, m := range g.members {
		old[m.Uin] = m
	}
	for _, m := range members {
		if o, found := old[m.Uin]; found && m.QQNumber == "" {
			m.QQNumber = o.QQNumber
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return uinLess(members[i].Uin, members[j].Uin)
	})
	g.members = members
}

// setMemberNumber 替换成员为带QQ号的副本，已经返回出去的 *Buddy 不会被修改
func (g *Group) setMemberNumber(uin string, number string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, m := range g.members {
		if m.Uin == uin {
			b := *m
			b.QQNumber = number
			g.members[i] = &b
			return
		}
	}
}

func (g *Group) setPendingJoin(pending bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pendingJoin = pending
}

// uinLess 按数值比较，无法解析时按字符串比较
func uinLess(a, b string) bool {
	na, erra := strconv.ParseUint(a, 10, 64)
	nb, errb := strconv.ParseUint(b, 10, 64)
	if erra == nil && errb == nil {
		return na < nb
	}
	return a < b
}

type SearchGroupResult struct {
	NeedVerifyCode bool
	VerifyImage    []byte
	Groups         []*Group
}

type JoinGroupResult struct {
	NeedVerifyCode bool
	VerifyImage    []byte
	// Pending 申请已提交
	Pending bool
}

// GroupManager 维护群列表，群一旦出现就不会被删除
type GroupManager struct {
	endpoints   Endpoints
	options     func(referer string) []requests.Option
	tokens      func() tokens
	verifyImage func(ctx context.Context, vcID string) ([]byte, error)
	onNumber    func(g *Group)

	mu       sync.RWMutex
	groups   []*Group
	byGID    map[string]*Group
	byCode   map[string]*Group
	byNumber map[string]*Group
}

func newGroupManager(
	endpoints Endpoints,
	options func(referer string) []requests.Option,
	tokens func() tokens,
	verifyImage func(ctx context.Context, vcID string) ([]byte, error),
	onNumber func(g *Group),
) *GroupManager {
	return &GroupManager{
		endpoints:   endpoints,
		options:     options,
		tokens:      tokens,
		verifyImage: verifyImage,
		onNumber:    onNumber,
		byGID:       make(map[string]*Group),
		byCode:      make(map[string]*Group),
		byNumber:    make(map[string]*Group),
	}
}

// ensure 查找或创建群并补全缺失的 gid/code/number
func (m *GroupManager) ensure(gid, code, number string) *Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	var g *Group
	if gid != "" {
		g = m.byGID[gid]
	}
	if g == nil && code != "" {
		g = m.byCode[code]
	}
	if g == nil && number != "" {
		g = m.byNumber[number]
	}
	if g == nil {
		g = new(Group)
		m.groups = append(m.groups, g)
	}
	g.mu.Lock()
	if gid != "" && g.gid != gid {
		g.gid = gid
		m.byGID[gid] = g
	}
	if code != "" && g.code != code {
		g.code = code
		m.byCode[code] = g
	}
	if number != "" && g.number != number {
		g.number = number
		m.byNumber[number] = g
	}
	g.mu.Unlock()
	return g
}

func (m *GroupManager) FindGroup(gid string) *Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byGID[gid]
}

func (m *GroupManager) FindGroupByNumber(number string) *Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byNumber[number]
}

func (m *GroupManager) FindGroupByCode(code string) *Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byCode[code]
}

// List 按发现顺序返回所有群
func (m *GroupManager) List() []*Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Group(nil), m.groups...)
}

func (m *GroupManager) onlineTokens() (tokens, error) {
	tk := m.tokens()
	if tk.VFWebQQ == "" {
		return tk, ErrNotOnline
	}
	return tk, nil
}

func checkRetcode(api string, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.Wrapf(ErrProtocol, "%v response %q", api, body)
	}
	result := gjson.ParseBytes(body)
	if retcode := result.Get("retcode").Int(); retcode != 0 {
		return result, &RetcodeError{Api: api, Retcode: retcode}
	}
	return result, nil
}

// UpdateGroupList 刷新群列表，已有的群原地更新
func (m *GroupManager) UpdateGroupList(ctx context.Context) ([]*Group, error) {
	tk, err := m.onlineTokens()
	if err != nil {
		return nil, err
	}
	r, err := json.MarshalToString(map[string]string{"vfwebqq": tk.VFWebQQ})
	if err != nil {
		return nil, err
	}
	var body []byte
	err = requests.PostForm(ctx, m.endpoints.api("get_group_name_list_mask2"), map[string]string{
		"r": r,
	}, &body, m.options(m.endpoints.apiReferer())...)
	if err != nil {
		return nil, errors.Wrap(err, "get_group_name_list_mask2")
	}
	result, err := checkRetcode("get_group_name_list_mask2", body)
	if err != nil {
		return nil, err
	}
	var groups []*Group
	for _, item := range result.Get("result.gnamelist").Array() {
		g := m.ensure(item.Get("gid").String(), item.Get("code").String(), "")
		g.setName(item.Get("name").String())
		groups = append(groups, g)
	}
	logger.WithField("count", len(groups)).Debug("group list updated")
	return groups, nil
}

// getFriendUin 把 gcode 或成员 uin 换成群号或QQ号，type 4 为群，1 为成员
func (m *GroupManager) getFriendUin(ctx context.Context, tuin string, typ string, vfwebqq string) (string, error) {
	var body []byte
	err := requests.Get(ctx, m.endpoints.api("get_friend_uin2"), map[string]string{
		"tuin":          tuin,
		"verifysession": "",
		"type":          typ,
		"code":          "",
		"vfwebqq":       vfwebqq,
		"t":             timestamp(),
	}, &body, m.options(m.endpoints.apiReferer())...)
	if err != nil {
		return "", errors.Wrap(err, "get_friend_uin2")
	}
	result, err := checkRetcode("get_friend_uin2", body)
	if err != nil {
		return "", err
	}
	account := result.Get("result.account").String()
	if account == "" {
		return "", errors.Wrap(ErrProtocol, "get_friend_uin2 without account")
	}
	return account, nil
}

// UpdateGroupNumber 查询群号，成功后发出 GroupNumberEvent
func (m *GroupManager) UpdateGroupNumber(ctx context.Context, g *Group) error {
	tk, err := m.onlineTokens()
	if err != nil {
		return err
	}
	number, err := m.getFriendUin(ctx, g.Code(), "4", tk.VFWebQQ)
	if err != nil {
		return err
	}
	m.ensure(g.GID(), g.Code(), number)
	if m.onNumber != nil {
		m.onNumber(g)
	}
	return nil
}

// UpdateMemberNumber 查询还不知道QQ号的成员，单个成员失败时继续查询其他成员，返回第一个错误
func (m *GroupManager) UpdateMemberNumber(ctx context.Context, g *Group) error {
	tk, err := m.onlineTokens()
	if err != nil {
		return err
	}
	var first error
	for _, b := range g.Members() {
		if b.QQNumber != "" {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		number, err := m.getFriendUin(ctx, b.Uin, "1", tk.VFWebQQ)
		if err != nil {
			logger.WithField("gid", g.GID()).WithField("member", b.Uin).Debugf("查询成员QQ号失败：%v", err)
			if first == nil {
				first = err
			}
			continue
		}
		g.setMemberNumber(b.Uin, number)
	}
	return first
}

// UpdateGroupMember 刷新群成员，重复调用结果相同
func (m *GroupManager) UpdateGroupMember(ctx context.Context, g *Group) error {
	tk, err := m.onlineTokens()
	if err != nil {
		return err
	}
	var body []byte
	err = requests.Get(ctx, m.endpoints.api("get_group_info_ext2"), map[string]string{
		"gcode":   g.Code(),
		"vfwebqq": tk.VFWebQQ,
		"t":       timestamp(),
	}, &body, m.options(m.endpoints.apiReferer())...)
	if err != nil {
		return errors.Wrap(err, "get_group_info_ext2")
	}
	result, err := checkRetcode("get_group_info_ext2", body)
	if err != nil {
		return err
	}
	nicks := make(map[string]string)
	for _, info := range result.Get("result.minfo").Array() {
		nicks[info.Get("uin").String()] = info.Get("nick").String()
	}
	cards := make(map[string]string)
	for _, card := range result.Get("result.cards").Array() {
		cards[card.Get("muin").String()] = card.Get("card").String()
	}
	var members []*Buddy
	seen := make(map[string]bool)
	for _, item := range result.Get("result.ginfo.members").Array() {
		uin := item.Get("muin").String()
		if uin == "" || seen[uin] {
			continue
		}
		seen[uin] = true
		members = append(members, &Buddy{
			Uin:  uin,
			Nick: nicks[uin],
			Card: cards[uin],
			Flag: item.Get("mflag").Int(),
		})
	}
	g.setMembers(result.Get("result.ginfo.name").String(), result.Get("result.ginfo.memo").String(), members)
	return nil
}

// SearchGroup 按群号搜索，服务器要求验证码时返回 NeedVerifyCode 和图片，
// 之后带上识别出的 verifyCode 再次调用
func (m *GroupManager) SearchGroup(ctx context.Context, number string, verifyCode string) (*SearchGroupResult, error) {
	tk, err := m.onlineTokens()
	if err != nil {
		return nil, err
	}
	var body []byte
	err = requests.Get(ctx, m.endpoints.searchGroup(), map[string]string{
		"pg":      "1",
		"perpage": "10",
		"all":     number,
		"c1":      "0",
		"c2":      "0",
		"c3":      "0",
		"st":      "0",
		"vfcode":  verifyCode,
		"type":    "1",
		"vfwebqq": tk.VFWebQQ,
		"t":       timestamp(),
	}, &body, m.options(m.endpoints.keyCGIReferer())...)
	if err != nil {
		return nil, errors.Wrap(err, "search group")
	}
	result, err := checkRetcode("search.do", body)
	var rerr *RetcodeError
	if errors.As(err, &rerr) && rerr.Retcode == retcodeSearchNeedVerifyCode {
		image, err := m.verifyImage(ctx, "")
		if err != nil {
			return nil, errors.Wrap(err, "search group verify image")
		}
		return &SearchGroupResult{NeedVerifyCode: true, VerifyImage: image}, nil
	}
	if err != nil {
		return nil, err
	}
	var groups []*Group
	for _, item := range result.Get("result").Array() {
		g := m.ensure("", item.Get("GE").String(), item.Get("GEX").String())
		g.setName(item.Get("TI").String())
		groups = append(groups, g)
	}
	return &SearchGroupResult{Groups: groups}, nil
}

// JoinGroup 申请加入群，服务器要求验证码时返回 NeedVerifyCode 和图片
func (m *GroupManager) JoinGroup(ctx context.Context, g *Group, verifyCode string) (*JoinGroupResult, error) {
	tk, err := m.onlineTokens()
	if err != nil {
		return nil, err
	}
	r, err := json.MarshalToString(map[string]interface{}{
		"gcode":   numberOrString(g.Code()),
		"code":    verifyCode,
		"vfy":     "",
		"msg":     "",
		"vfwebqq": tk.VFWebQQ,
	})
	if err != nil {
		return nil, err
	}
	var body []byte
	err = requests.PostForm(ctx, m.endpoints.api("apply_join_group2"), map[string]string{
		"r": r,
	}, &body, m.options(m.endpoints.apiReferer())...)
	if err != nil {
		return nil, errors.Wrap(err, "apply_join_group2")
	}
	_, err = checkRetcode("apply_join_group2", body)
	var rerr *RetcodeError
	if errors.As(err, &rerr) && (rerr.Retcode == retcodeJoinNeedVerifyCode || rerr.Retcode == retcodeJoinWrongVerifyCode) {
		image, err := m.verifyImage(ctx, "")
		if err != nil {
			return nil, errors.Wrap(err, "join group verify image")
		}
		return &JoinGroupResult{NeedVerifyCode: true, VerifyImage: image}, nil
	}
	if err != nil {
		return nil, err
	}
	g.setPendingJoin(true)
	return &JoinGroupResult{Pending: true}, nil
}

func (s *Session) sessionContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if !s.Online() {
		return nil, nil, ErrNotOnline
	}
	ctx, cancel := mergeContext(ctx, s.lifeContext())
	return ctx, cancel, nil
}

// UpdateGroupList 见 GroupManager.UpdateGroupList，会话离线时请求会被取消
func (s *Session) UpdateGroupList(ctx context.Context) ([]*Group, error) {
	ctx, cancel, err := s.sessionContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return s.groups.UpdateGroupList(ctx)
}

func (s *Session) UpdateGroupNumber(ctx context.Context, g *Group) error {
	ctx, cancel, err := s.sessionContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return s.groups.UpdateGroupNumber(ctx, g)
}

func (s *Session) UpdateGroupMember(ctx context.Context, g *Group) error {
	ctx, cancel, err := s.sessionContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return s.groups.UpdateGroupMember(ctx, g)
}

func (s *Session) UpdateMemberNumber(ctx context.Context, g *Group) error {
	ctx, cancel, err := s.sessionContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return s.groups.UpdateMemberNumber(ctx, g)
}

func (s *Session) SearchGroup(ctx context.Context, number string, verifyCode string) (*SearchGroupResult, error) {
	ctx, cancel, err := s.sessionContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return s.groups.SearchGroup(ctx, number, verifyCode)
}

func (s *Session) JoinGroup(ctx context.Context, g *Group, verifyCode string) (*JoinGroupResult, error) {
	ctx, cancel, err := s.sessionContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return s.groups.JoinGroup(ctx, g, verifyCode)
}

func (s *Session) FindGroup(gid string) *Group {
	return s.groups.FindGroup(gid)
}

func (s *Session) FindGroupByNumber(number string) *Group {
	return s.groups.FindGroupByNumber(number)
}
