package rank

import "strings"

var provinces = []string{
	"北京", "上海", "天津", "重庆",
	"内蒙古", "黑龙江", "广西", "西藏", "宁夏", "新疆",
	"河北", "山西", "辽宁", "吉林",
	"江苏", "浙江", "安徽", "福建", "江西", "山东",
	"河南", "湖北", "湖南", "广东", "海南",
	"四川", "贵州", "云南", "陕西", "甘肃", "青海",
	"台湾", "香港", "澳门",
}

// 只写了省名的城市查不到，这里补充常见城市。
var cityProvince = map[string]string{
	"石家庄": "河北", "太原": "山西", "沈阳": "辽宁", "大连": "辽宁", "长春": "吉林", "哈尔滨": "黑龙江",
	"南京": "江苏", "苏州": "江苏", "无锡": "江苏", "杭州": "浙江", "宁波": "浙江", "温州": "浙江",
	"合肥": "安徽", "福州": "福建", "厦门": "福建", "南昌": "江西", "济南": "山东", "青岛": "山东",
	"郑州": "河南", "武汉": "湖北", "长沙": "湖南", "广州": "广东", "深圳": "广东", "东莞": "广东",
	"佛山": "广东", "海口": "海南", "三亚": "海南", "成都": "四川", "贵阳": "贵州", "昆明": "云南",
	"西安": "陕西", "兰州": "甘肃", "西宁": "青海", "呼和浩特": "内蒙古", "南宁": "广西",
	"拉萨": "西藏", "银川": "宁夏", "乌鲁木齐": "新疆",
}

// Province 返回城市所属省份，无法识别时返回空串。
func Province(city string) string {
	city = strings.TrimSpace(city)
	if city == "" {
		return ""
	}
	for _, p := range provinces {
		if strings.Contains(city, p) {
			return p
		}
	}
	for c, p := range cityProvince {
		if strings.Contains(city, c) {
			return p
		}
	}
	return ""
}

// cityProximity 返回 same_city / same_province / other 三档之一。
func cityProximity(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == b:
		return "same_city"
	case Province(a) != "" && Province(a) == Province(b):
		return "same_province"
	default:
		return "other"
	}
}
